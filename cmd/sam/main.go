// Sam is a conversational scheduling assistant for a dental clinic.
//
// It exposes a small HTTP API for chat turns, books appointments on a
// CalDAV calendar, and prepares confirmation email drafts over IMAP.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	sam serve              Start the API server
//	sam ask <message>      Run a single turn (for testing)
//	sam version            Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/careloop/sam-agent/internal/agent"
	"github.com/careloop/sam-agent/internal/api"
	"github.com/careloop/sam-agent/internal/appointments"
	"github.com/careloop/sam-agent/internal/buildinfo"
	"github.com/careloop/sam-agent/internal/calendar"
	"github.com/careloop/sam-agent/internal/config"
	"github.com/careloop/sam-agent/internal/email"
	"github.com/careloop/sam-agent/internal/llm"
	"github.com/careloop/sam-agent/internal/memory"
	"github.com/careloop/sam-agent/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the sam command. Arguments are parsed
// by hand; the flag package relies on package-level globals which make
// concurrent test invocations of run() impossible, and the argument
// surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: sam ask <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sam - Clinic Scheduling Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sam [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Run a single turn (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sam/config.yaml, /etc/sam/config.yaml")
	return nil
}

// runAsk handles the "sam ask <message>" subcommand. It boots the full
// agent and processes a single message on a throwaway thread, printing
// the reply to stdout. Useful for smoke tests without starting the
// server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := config.NewLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	loop, _, cleanup, err := buildLoop(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	reply, err := loop.RunTurn(ctx, "cli-test", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply)
	return nil
}

// runServe handles the "sam serve" subcommand. It is the primary
// operating mode: loads config, opens the databases, wires the calendar
// and mail clients into the tool registry, starts the HTTP server, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo)
	logger.Info("starting sam", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = config.NewLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"timezone", cfg.Clinic.Timezone,
	)

	loop, store, cleanup, err := buildLoop(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, loop, logger)
	server.SetMemoryStore(store)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("sam stopped")
	return nil
}

// buildLoop wires the full agent: stores, model gateway, calendar and
// mail clients, tool registry, dispatcher, and turn loop. The returned
// cleanup closes everything that was opened.
func buildLoop(cfg *config.Config, logger *slog.Logger) (*agent.Loop, *memory.SQLiteStore, func(), error) {
	loc, err := cfg.Clinic.Location()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	fail := func(err error) (*agent.Loop, *memory.SQLiteStore, func(), error) {
		cleanup()
		return nil, nil, nil, err
	}

	// Conversation history.
	convPath := filepath.Join(cfg.DataDir, "conversations.db")
	store, err := memory.NewSQLiteStore(convPath)
	if err != nil {
		return fail(fmt.Errorf("open conversation database %s: %w", convPath, err))
	}
	closers = append(closers, store.Close)
	logger.Info("conversation database opened", "path", convPath)

	// Appointment records.
	apptPath := filepath.Join(cfg.DataDir, "appointments.db")
	apptStore, err := appointments.NewStore(apptPath)
	if err != nil {
		return fail(fmt.Errorf("open appointment database %s: %w", apptPath, err))
	}
	closers = append(closers, apptStore.Close)

	// Model gateway.
	client := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, time.Duration(cfg.Model.TimeoutSec)*time.Second)
	gateway := llm.NewGateway(client, llm.GatewayOptions{
		Model:   cfg.Model.Name,
		Retries: cfg.Model.Retries,
		Backoff: cfg.Model.RetryBackoff(),
		Timeout: time.Duration(cfg.Model.TimeoutSec) * time.Second,
	}, logger)

	// Clinic calendar.
	cal, err := calendar.NewClient(calendar.Config{
		URL:      cfg.Calendar.URL,
		Username: cfg.Calendar.Username,
		Password: cfg.Calendar.Password,
		Path:     cfg.Calendar.Path,
	}, calendar.Policy{
		Location:    loc,
		OpenHour:    cfg.Clinic.OpenHour,
		CloseHour:   cfg.Clinic.CloseHour,
		SlotMinutes: cfg.Clinic.SlotMinutes,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("calendar client: %w", err))
	}

	// Confirmation email drafts.
	drafts := email.NewClient(email.Config{
		Host:          cfg.Mail.Host,
		Port:          cfg.Mail.Port,
		Username:      cfg.Mail.Username,
		Password:      cfg.Mail.Password,
		TLS:           cfg.Mail.TLS,
		From:          cfg.Mail.From,
		DraftsMailbox: cfg.Mail.DraftsMailbox,
	}, logger)
	closers = append(closers, drafts.Close)

	registry := tools.NewRegistry()
	tools.RegisterScheduling(registry, cal, drafts, apptStore, tools.SchedulingOptions{
		Location:           loc,
		AppointmentMinutes: cfg.Clinic.AppointmentMinutes,
	}, logger)

	dispatcher := agent.NewDispatcher(registry, agent.DispatcherOptions{
		Retries: cfg.Agent.ToolRetries,
		Backoff: cfg.Agent.ToolRetryBackoff(),
		Timeout: time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second,
	}, logger)

	loop := agent.NewLoop(gateway, store, registry, dispatcher, agent.LoopOptions{
		Location:      loc,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	return loop, store, cleanup, nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
