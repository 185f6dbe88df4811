package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/config"
	"github.com/mpataki/pipestatus/internal/hook"
	"github.com/mpataki/pipestatus/internal/lease"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/orchestrator"
	"github.com/mpataki/pipestatus/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pipestatus",
		Short:         "Pipeline execution status tracker",
		Long:          "Pipestatus tracks the lifecycle of repeatedly triggered data pipelines and notifies their hooks.",
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newQueueCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newFinishCommand())
	rootCmd.AddCommand(newInvalidateCommand())
	rootCmd.AddCommand(newDeregisterCommand())
	return rootCmd
}

// app wires the configured backend, hook dispatcher and lease into an
// orchestrator.
type app struct {
	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	hooks *hook.Dispatcher

	closers []func() error
}

// newApp builds the app from the environment. Interactive apps only log
// errors so the TUI screen stays intact.
func newApp(ctx context.Context, interactive bool) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	log.SetLevel(cfg.LogLevel)
	if interactive {
		log.SetLevel("error")
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	a := &app{cfg: cfg}

	b, err := backend.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open backend")
	}
	a.closers = append(a.closers, b.Close)

	locker, err := a.openLocker(b)
	if err != nil {
		a.close()
		return nil, err
	}

	a.hooks = hook.NewDispatcher(cfg.Hooks, hook.WithLogger(log.New("hooks")))
	a.hooks.Start()

	a.orch = orchestrator.New(b, a.hooks, locker,
		orchestrator.WithMaxExecutions(cfg.MaxExecutions),
		orchestrator.WithLogger(log.New("pipestatus")),
	)
	return a, nil
}

func (a *app) openLocker(b backend.Backend) (lease.Locker, error) {
	if a.cfg.Lease.Kind != "redis" {
		return lease.NewLocal(), nil
	}
	if rb, ok := b.(*backend.Redis); ok {
		return lease.NewRedis(rb.Client(), a.cfg.Lease), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Backend.Redis.Addr,
		Password: a.cfg.Backend.Redis.Password,
		DB:       a.cfg.Backend.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	return lease.NewRedis(client, a.cfg.Lease), nil
}

// close drains pending hook deliveries before releasing storage.
func (a *app) close() {
	if a.hooks != nil {
		a.hooks.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.close()

	p := tea.NewProgram(tui.NewApp(a.orch), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
