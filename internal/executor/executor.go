// Package executor defines the injected action-execution seam. The core
// never inspects side effects beyond the Result envelope.
package executor

import (
	"context"
	"log"
)

// Result is the execution envelope returned by a transport.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor performs one named action with bound parameters.
type Executor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, tool string, params map[string]any) (Result, error)

func (f Func) Execute(ctx context.Context, tool string, params map[string]any) (Result, error) {
	return f(ctx, tool, params)
}

// DryRun logs actions instead of performing them. Used by the replay
// command and as the safe default when no transport is wired.
type DryRun struct{}

func (DryRun) Execute(ctx context.Context, tool string, params map[string]any) (Result, error) {
	log.Printf("[executor] dry-run %s %v", tool, params)
	return Result{Success: true, Output: "dry-run"}, nil
}
