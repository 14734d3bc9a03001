// Package oracle defines the injected language-model seam. The core only
// ever sends a prompt and reads back text; everything else about the model
// is the caller's business.
package oracle

import "context"

// Oracle maps an analysis/decision prompt to a text response, expected (but
// not guaranteed) to be JSON per the calling prompt's contract. Callers must
// tolerate malformed output.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to the Oracle interface, the usual shape in
// tests.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
