package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/hmle/sitegen/internal/api"
	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/config"
	"github.com/hmle/sitegen/internal/content"
	"github.com/hmle/sitegen/internal/images"
	"github.com/hmle/sitegen/internal/llm"
	"github.com/hmle/sitegen/internal/pipeline"
	"github.com/hmle/sitegen/internal/status"
	"github.com/hmle/sitegen/internal/storage"
	"github.com/hmle/sitegen/internal/wordpress"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sitegen server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sitegen server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sitegen server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sitegen.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "sitegen version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start. The health endpoint answers if a server is
	// already listening on the configured port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sitegen is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sitegen is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cacheStore, err := cache.New(cache.Config{
		Dir:        cfg.Cache.Dir,
		Enabled:    cfg.Cache.Enabled,
		DefaultTTL: cfg.Cache.DefaultTTL,
		ImageTTL:   cfg.Cache.ImageTTL,
	})
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	// Build the generation pipeline.
	llmClient := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	generator := content.NewGenerator(llmClient, cacheStore, slog.Default())
	collector := business.NewCollector(business.Config{
		HTTPClient: &http.Client{Timeout: cfg.Business.Timeout},
	}, cacheStore, slog.Default())
	imageMgr, err := images.NewManager(images.Config{
		UnsplashAccessKey: cfg.Images.UnsplashAccessKey,
		PexelsAPIKey:      cfg.Images.PexelsAPIKey,
		PixabayAPIKey:     cfg.Images.PixabayAPIKey,
		DownloadDir:       cfg.Images.DownloadDir,
	}, cacheStore, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing image manager: %w", err)
	}
	if !imageMgr.HasProviders() {
		slog.Warn("no image provider keys configured, sites will be published without photos")
	}

	runner := &pipeline.Runner{
		Store:    store,
		Business: collector,
		Content:  generator,
		Images:   imageMgr,
		NewPublisher: func(siteURL, username, password string) pipeline.Publisher {
			return wordpress.NewClient(siteURL, username, password)
		},
		Logger: slog.Default(),
	}

	deps := api.Deps{
		Store:    store,
		Cache:    cacheStore,
		Status:   status.NewReporter(store, cacheStore),
		Runner:   runner,
		Business: collector,
		Images:   imageMgr,
		NewTester: func(siteURL, username, password string) api.ConnectionTester {
			return wordpress.NewClient(siteURL, username, password)
		},
		AdminToken: cfg.Server.APIToken,
		Logger:     slog.Default(),
	}
	handler := api.NewHandler(deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sitegen listening on %s\n", addr)
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

	// Graceful shutdown with timeout.
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
		printError("sitegen is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sitegen (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sitegen (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printError("sitegen is not running")
		return nil
	}
	resp.Body.Close()
	printSuccess("sitegen is running at %s", client.baseURL)

	resp, err = client.get(ctx, "/api/cache/stats")
	if err != nil {
		return nil
	}
	var stats cache.Stats
	if err := decodeJSON(resp, &stats); err != nil {
		// The admin surface may be disabled; the server is still healthy.
		return nil
	}
	for ns, s := range stats.Namespaces {
		printStatus(ns, "%d entries, %d bytes", s.Entries, s.TotalBytes)
	}
	return nil
}
