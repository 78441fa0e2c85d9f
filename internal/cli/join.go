package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
	"quiz-sync/internal/health"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/router"
	"quiz-sync/internal/transport"
)

const reconnectDelay = 2 * time.Second

// NewJoinCmd joins a session and follows it until interrupted.
func NewJoinCmd(configPath *string) *cobra.Command {
	var nick string
	cmd := &cobra.Command{
		Use:   "join [session]",
		Short: "Join a quiz session and follow it live",
		Long: `Join a quiz session and follow it live.

Without a session argument the last joined session is resumed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runJoin(cmd.Context(), cmd.OutOrStdout(), *configPath, name, nick)
		},
	}
	cmd.Flags().StringVar(&nick, "nick", "", "participant name to join as")
	return cmd
}

func runJoin(ctx context.Context, out io.Writer, configPath, name, nick string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	resume, closeResume, err := openResumeStore(cfg)
	if err != nil {
		return err
	}
	defer closeResume()

	if name == "" {
		if name, err = resume.Get(ctx, app.KeySessionName); err != nil {
			return fmt.Errorf("no session given and none to resume: %w", err)
		}
	}

	dialer, closeDialer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	defer closeDialer()
	apiClient := newAPIClient(cfg, log)
	manager := transport.NewManager(dialer, apiClient,
		transport.WithLogger(log),
		transport.WithProbeDelay(config.TTLDuration(cfg.Health.ProbeDelay, transport.DefaultProbeDelay)),
	)
	defer manager.Close()

	bus := router.New(manager, log)
	sessions := app.NewSessionStore(store, resume, apiClient,
		app.WithSessionLogger(log),
		app.WithInteractive(cfg.Features.Interactive),
	)
	roster := app.NewRoster(sessions, apiClient, resume, app.WithRosterLogger(log))
	engine := app.NewEngine(bus, sessions, roster, apiClient, resume,
		app.WithEngineLogger(log),
		app.WithFeatures(app.Features{
			ReadingConfirmation: cfg.Features.ReadingConfirmationEnabled,
			ConfidenceSlider:    cfg.Features.ConfidenceSliderEnabled,
		}),
	)
	monitor := health.NewMonitor(manager,
		health.WithLogger(log),
		health.WithInterval(config.TTLDuration(cfg.Health.ProbeInterval, 0)),
	)
	gate := health.NewRecoveryGate(consolePrompter{out: out}, log)

	for _, topic := range []string{cfg.Bus.GlobalTopic, protocol.SessionTopic(cfg.Bus.TopicPrefix, name)} {
		if err := manager.Subscribe(ctx, topic); err != nil {
			return err
		}
	}
	if err := manager.Connect(ctx); err != nil {
		log.Warn("starting offline", zap.Error(err))
	}

	if err := sessions.LoadForPlay(ctx, name); err != nil {
		return err
	}
	if nick != "" {
		roster.SetOwnNick(nick)
	}
	engine.Bind()
	fmt.Fprintln(out, renderSession(sessions.Current()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx, manager.Messages()) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		statuses, cancel := monitor.Availability()
		defer cancel()
		return gate.Run(gctx, statuses)
	})
	g.Go(func() error { return roster.Watch(gctx) })
	g.Go(func() error { return reconnect(gctx, manager, log) })
	g.Go(func() error { return follow(gctx, out, engine, sessions, roster, monitor) })

	err = g.Wait()
	engine.Leave()
	engine.Wait()
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, labelStyle.Render("left "+name))
		return nil
	}
	return err
}

// reconnect redials after the connection drops, until ctx ends.
func reconnect(ctx context.Context, manager *transport.Manager, log *zap.Logger) error {
	states, cancel := manager.States()
	defer cancel()
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return nil
			}
			if s != transport.StateClosed {
				continue
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := manager.Connect(ctx); err != nil {
			log.Debug("reconnect failed", zap.Error(err))
		}
	}
}

// follow prints session, roster, availability and intent changes.
func follow(ctx context.Context, out io.Writer, engine *app.Engine, sessions *app.SessionStore, roster *app.Roster, monitor *health.Monitor) error {
	sessUpdates, cancelSess := sessions.Subscribe()
	defer cancelSess()
	rosterUpdates, cancelRoster := roster.Subscribe()
	defer cancelRoster()
	statuses, cancelStatus := monitor.Availability()
	defer cancelStatus()

	last := health.StatusUnknown
	for {
		select {
		case sess := <-sessUpdates:
			fmt.Fprintln(out, renderSession(sess))
		case members := <-rosterUpdates:
			fmt.Fprintln(out, renderRoster(members, roster.OwnNick()))
		case s := <-statuses:
			if s != last || s == health.StatusAvailable {
				fmt.Fprintln(out, renderStatus(s, monitor))
			}
			last = s
		case intent := <-engine.Intents():
			fmt.Fprintln(out, renderIntent(intent))
			if intent.Kind == app.IntentClosed || intent.Kind == app.IntentKicked {
				return context.Canceled
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
