package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/api"
	"github.com/roach88/livesync/internal/broker"
	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/notify"
)

// shutdownTimeout bounds how long in-flight fetches may take to settle
// once the command is asked to stop.
const shutdownTimeout = 5 * time.Second

// Transport is a broker connection the run command owns. Done is closed
// when the connection drops.
type Transport interface {
	broker.Broker
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens the broker connection.
type DialFunc func(ctx context.Context, cfg broker.PusherConfig) (Transport, error)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
	Org    string

	// Dial overrides how the broker is reached (for testing).
	// If nil, a Pusher WebSocket connection is dialed.
	Dial DialFunc

	// UI overrides where notifications go (for testing).
	// If nil, they are logged.
	UI notify.UI
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync one organization until interrupted",
		Long: `Connect to the broker, subscribe to an organization's channel and keep
its organization, channel list and message caches in sync.

Notifications and redirects are written to the log. The organization
comes from --org, or organization_id in the config file.

Example:
  livesync run --config ./livesync.yaml
  livesync run --config ./livesync.yaml --org 5f2b --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&opts.Org, "org", "", "organization to open (overrides organization_id)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.SetDefault(newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr()))

	orgID := opts.Org
	if orgID == "" {
		orgID = cfg.OrganizationID
	}
	if orgID == "" {
		return NewExitError(ExitCommandError, "no organization: set organization_id or pass --org")
	}

	fetcher, err := api.NewHTTPFetcher(cfg.HTTP())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create API client", err)
	}

	engineOpts := []engine.EngineOption{
		engine.WithPolicy(engine.Policy{
			PreviewRunes:  cfg.Notifications.PreviewRunes,
			RedirectDelay: cfg.RedirectDelay(),
		}),
		engine.WithPageSize(cfg.Messages.PageSize),
	}
	if cfg.Journal.Path != "" {
		slog.Info("opening journal", "path", cfg.Journal.Path)
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithJournal(j))
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	dial := opts.Dial
	if dial == nil {
		dial = dialPusher
	}
	transport, err := dial(ctx, cfg.Pusher())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to broker", err)
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			slog.Warn("error closing broker connection", "error", closeErr)
		}
	}()

	ui := opts.UI
	if ui == nil {
		ui = notify.LogUI{}
	}
	eng := engine.New(cfg.PrincipalID, transport, fetcher, ui, engineOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The loop outlives ctx so that shutdown can still unsubscribe and
	// let in-flight fetches settle.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(runCtx) }()

	if err := eng.Open(orgID); err != nil {
		cancelRun()
		<-runErr
		return WrapExitError(ExitFailure, "failed to open organization", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Syncing organization %s as %s.\n", orgID, cfg.PrincipalID)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var lost error
	select {
	case <-ctx.Done():
	case <-transport.Done():
		lost = errors.New("broker connection closed")
		if te, ok := transport.(interface{ Err() error }); ok && te.Err() != nil {
			lost = te.Err()
		}
		slog.Error("broker connection lost", "error", lost)
	}

	shutdown(eng)
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if lost != nil {
		return WrapExitError(ExitFailure, "broker connection lost", lost)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// shutdown unsubscribes, lets in-flight fetches settle and stops the
// loop.
func shutdown(eng *engine.Engine) {
	if err := eng.Close(); err != nil {
		slog.Debug("close after stop", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Drain(ctx); err != nil {
		slog.Warn("shutdown did not settle", "error", err)
	}
	eng.Stop()
}

func dialPusher(ctx context.Context, cfg broker.PusherConfig) (Transport, error) {
	p, err := broker.DialPusher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newLogger builds the process logger from the log section. --verbose
// forces debug level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
