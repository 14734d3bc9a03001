package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/streamwarden/internal/bus"
	"github.com/stellarlinkco/streamwarden/internal/config"
	"github.com/stellarlinkco/streamwarden/internal/executor"
	"github.com/stellarlinkco/streamwarden/internal/feedback"
	"github.com/stellarlinkco/streamwarden/internal/monitor"
	"github.com/stellarlinkco/streamwarden/internal/oracle"
)

var rootCmd = &cobra.Command{
	Use:   "streamwarden",
	Short: "streamwarden - autonomous stream chat moderator",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor, reading chat lines from stdin (user: message)",
	RunE:  runRun,
}

var replayCmd = &cobra.Command{
	Use:   "replay [transcript]",
	Short: "Feed a chat transcript through one forced analysis (dry-run)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReplay,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show streamwarden status",
	RunE:  runStatus,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the performance report",
	RunE:  runReport,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(runCmd, replayCmd, statusCmd, reportCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildMonitor(cfg *config.Config, exec executor.Executor) (*monitor.Monitor, *bus.ChatBus, error) {
	store, err := feedback.NewStore(cfg.Storage.DataDir, cfg.Storage.RetentionDays)
	if err != nil {
		return nil, nil, fmt.Errorf("create feedback store: %w", err)
	}
	b := bus.NewChatBus(config.DefaultBufSize)
	m := monitor.New(cfg, oracle.NewClient(cfg), exec, store, b)
	return m, b, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'streamwarden onboard' or set STREAMWARDEN_API_KEY / OPENAI_API_KEY")
	}

	// The outbound action transport is wired by the embedder; standalone
	// runs log actions instead of performing them.
	m, b, err := buildMonitor(cfg, executor.DryRun{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	go feedChat(b, os.Stdin)

	fmt.Println("streamwarden running; feed chat as 'user: message' on stdin, Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	return nil
}

// feedChat parses "user: message" lines into the chat bus.
func feedChat(b *bus.ChatBus, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		user, content := "viewer", line
		if i := strings.Index(line, ":"); i > 0 {
			user = strings.TrimSpace(line[:i])
			content = strings.TrimSpace(line[i+1:])
		}
		b.Publish(bus.ChatMessage{Username: user, Content: content, Timestamp: time.Now()})
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'streamwarden onboard' or set STREAMWARDEN_API_KEY / OPENAI_API_KEY")
	}

	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		in = f
	}

	m, _, err := buildMonitor(cfg, executor.DryRun{})
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	now := time.Now()
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		user, content := "viewer", line
		if i := strings.Index(line, ":"); i > 0 {
			user = strings.TrimSpace(line[:i])
			content = strings.TrimSpace(line[i+1:])
		}
		m.Ingest(bus.ChatMessage{Username: user, Content: content, Timestamp: now})
		count++
	}
	if count == 0 {
		return fmt.Errorf("empty transcript")
	}

	result := m.ForceAnalysis(context.Background())
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Data dir: %s\n", cfg.Storage.DataDir)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Autonomous: enabled=%v interval=%s\n", cfg.Autonomous.Enabled, cfg.Autonomous.AnalysisInterval)
	fmt.Printf("Gates: spam=%v toxicity=%v engagement=%v polls=%v\n",
		cfg.Autonomous.SpamDetection, cfg.Autonomous.ToxicityDetection,
		cfg.Autonomous.Engagement, cfg.Autonomous.PollAutomation)

	if _, err := os.Stat(cfg.Storage.DataDir); err != nil {
		fmt.Println("Data dir: not found (run 'streamwarden onboard')")
		return nil
	}
	store, err := feedback.NewStore(cfg.Storage.DataDir, cfg.Storage.RetentionDays)
	if err != nil {
		fmt.Printf("Feedback store: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Feedback entries (7d): %d\n", store.EntryCount())
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m, _, err := buildMonitor(cfg, executor.DryRun{})
	if err != nil {
		return err
	}
	fmt.Print(m.GeneratePerformanceReport())
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("Data dir ready: %s\n", cfg.Storage.DataDir)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set STREAMWARDEN_API_KEY environment variable")
	fmt.Println("  3. Run 'streamwarden replay transcript.txt' to test against a chat log")
	return nil
}
