package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ivanglie/scribe/internal/api"
	"github.com/ivanglie/scribe/internal/archive"
	"github.com/ivanglie/scribe/internal/audio"
	"github.com/ivanglie/scribe/internal/config"
	"github.com/ivanglie/scribe/internal/insights"
	"github.com/ivanglie/scribe/internal/llm"
	"github.com/ivanglie/scribe/internal/session"
	"github.com/ivanglie/scribe/internal/storage"
	"github.com/ivanglie/scribe/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scribe daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scribe daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scribe system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "scribe.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "scribe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("scribe is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("scribe is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	whisper := transcribe.NewWhisperClient(cfg.Whisper.BaseURL, cfg.Whisper.Model)
	if !whisper.IsRunning(ctx) {
		slog.Warn("whisper server not reachable, transcription will fail until it is up",
			"base_url", cfg.Whisper.BaseURL)
	}

	window, err := time.ParseDuration(cfg.Recording.Window)
	if err != nil {
		slog.Warn("invalid recording window, using default 30s",
			"value", cfg.Recording.Window, "error", err)
		window = 30 * time.Second
	}

	archiver := archive.New(cfg.Storage.RecordingsDir, cfg.Storage.AudioDir, cfg.Recording.MaxRecordings)

	// Recording is only wired when an input pipe is configured; without one
	// the daemon still serves the archive, insights, and MCP surface.
	var recorder api.Recorder
	if cfg.Recording.InputPipe != "" {
		worker := transcribe.NewWorker(whisper, transcribe.Config{
			Channels: cfg.Recording.Channels,
			Window:   window,
			BeamSize: cfg.Whisper.BeamSize,
		})
		capture := audio.NewPipeCapture(cfg.Recording.InputPipe, cfg.Recording.SampleRate, cfg.Recording.Channels)
		recorder = session.NewController(store, worker, capture, archiver, nil, session.Config{
			ArchiveRecordings: cfg.Recording.Archive,
			SaveChunkAudio:    cfg.Recording.SaveChunkAudio,
		})
		slog.Info("recording enabled", "input_pipe", cfg.Recording.InputPipe,
			"sample_rate", cfg.Recording.SampleRate, "channels", cfg.Recording.Channels)
	} else {
		slog.Info("no input pipe configured, recording endpoints disabled")
	}

	llmClient := llm.New(cfg.LLM.BaseURL)
	var insightSvc api.InsightService
	if llmClient.IsRunning(ctx) {
		insightSvc = insights.NewService(store, llmClient, "ollama", cfg.LLM.Model)
	} else {
		slog.Warn("LLM server not reachable, insight generation disabled", "base_url", cfg.LLM.BaseURL)
	}

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Recorder: recorder,
		Insights: insightSvc,
		Cleaner:  archiver,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Insights: insightSvc,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "scribe listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// An active session must not be lost on SIGTERM; stop it cleanly before
	// the HTTP server goes away.
	if recorder != nil && recorder.CurrentSessionID() != "" {
		if _, err := recorder.StopSession(); err != nil && !errors.Is(err, session.ErrNoSession) {
			slog.Error("stopping active session during shutdown", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("scribe is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop scribe (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to scribe (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	whisper := transcribe.NewWhisperClient(cfg.Whisper.BaseURL, cfg.Whisper.Model)
	if whisper.IsRunning(context.Background()) {
		printStatus("Whisper", "running at %s (model %s)", cfg.Whisper.BaseURL, cfg.Whisper.Model)
	} else {
		printStatus("Whisper", "not running")
	}

	llmClient := llm.New(cfg.LLM.BaseURL)
	if llmClient.IsRunning(context.Background()) {
		printStatus("LLM", "running at %s (model %s)", cfg.LLM.BaseURL, cfg.LLM.Model)
	} else {
		printStatus("LLM", "not running")
	}

	if cfg.Recording.InputPipe != "" {
		printStatus("Input pipe", "%s", cfg.Recording.InputPipe)
	} else {
		printStatus("Input pipe", "not configured")
	}

	// Show the active recording if the server is up.
	if resp != nil && resp.StatusCode == 200 {
		if c, err := newAPIClient(); err == nil {
			statusResp, err := c.get(context.Background(), "/v1/record/status")
			if err == nil {
				var rs struct {
					Recording bool   `json:"recording"`
					SessionID string `json:"session_id"`
				}
				if decodeJSON(statusResp, &rs) == nil {
					if rs.Recording {
						printStatus("Recording", "session %s", rs.SessionID)
					} else {
						printStatus("Recording", "idle")
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
