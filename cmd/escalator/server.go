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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/escalator/internal/api"
	"github.com/kalambet/escalator/internal/client"
	"github.com/kalambet/escalator/internal/config"
	"github.com/kalambet/escalator/internal/desk"
	"github.com/kalambet/escalator/internal/knowledge"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/notify"
	"github.com/kalambet/escalator/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the escalator server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running escalator server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show escalator system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "escalator.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "escalator version %s\n", version)

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

	// Refuse to start twice. A healthy server on our port means another
	// instance owns the database.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(cfg.BaseURL() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("escalator is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("escalator is already running on port %d", cfg.Server.Port)
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

	// Build the request desk and restore persisted state.
	engine := lifecycle.New(knowledge.New(), lifecycle.Options{
		DefaultTopic: cfg.Knowledge.DefaultTopic,
		Persister:    store,
		Logger:       slog.Default(),
	})
	svc := desk.New(engine, notify.NewOutbox(store), desk.Options{
		FollowUpMinutes: cfg.Lifecycle.FollowUpMinutes,
		Logger:          slog.Default(),
	})
	printStep("Restoring requests from %s", cfg.Storage.DataDir)
	if err := svc.Load(ctx, store); err != nil {
		return fmt.Errorf("loading requests: %w", err)
	}

	// Start notification worker and follow-up sweeper.
	worker := notify.NewWorker(store, notify.NewLogSink(slog.Default()), cfg.Notify.PollInterval, cfg.Notify.RatePerSecond)
	go worker.Run(ctx)
	go runFollowUpSweeper(ctx, svc, cfg.FollowUp.SweepInterval)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{Desk: svc})
	topRouter := chi.NewRouter()
	topRouter.Mount("/", appHandler)

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Desk: svc})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "escalator listening on %s\n", addr)
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

// followUpDispatcher is the part of the desk the sweeper drives.
type followUpDispatcher interface {
	DispatchFollowUps(ctx context.Context) (int, error)
}

// runFollowUpSweeper sends due follow-up reminders every interval until ctx
// is cancelled.
func runFollowUpSweeper(ctx context.Context, d followUpDispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepFollowUps(ctx, d)
		}
	}
}

func sweepFollowUps(ctx context.Context, d followUpDispatcher) int {
	n, err := d.DispatchFollowUps(ctx)
	if err != nil {
		slog.Error("follow-up sweep failed", "sent", n, "error", err)
	}
	return n
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
		printError("escalator is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop escalator (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to escalator (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	c := client.New(cfg.BaseURL(), &http.Client{Timeout: 2 * time.Second})
	running := c.Health(ctx) == nil
	if running {
		printStatus("Server", "running on %s", cfg.Addr())
	} else {
		printStatus("Server", "stopped")
	}

	if running {
		if reqs, err := c.List(ctx, ""); err == nil {
			printStatus("Pending", "%d", countStatus(reqs, model.StatusPending))
			printStatus("Needs follow-up", "%d", countStatus(reqs, model.StatusUnresolved))
			printStatus("Resolved", "%d", countStatus(reqs, model.StatusResolved))
		}
		if entries, err := c.ListKnowledgeBase(ctx); err == nil {
			printStatus("Learned answers", "%d", len(entries))
		}
	}

	printStatus("Follow-up window", "%d minutes", cfg.Lifecycle.FollowUpMinutes)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countStatus(reqs []model.HelpRequest, status model.Status) int {
	n := 0
	for _, r := range reqs {
		if r.Status == status {
			n++
		}
	}
	return n
}
