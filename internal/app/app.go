// Package app wires the call-session core together: token store, REST
// client, signaling transport, orchestrator, and the local call log.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/api"
	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/call"
	"github.com/velora-app/callkit/internal/config"
	"github.com/velora-app/callkit/internal/media"
	"github.com/velora-app/callkit/internal/store"
	"github.com/velora-app/callkit/internal/store/sqlite"
	"github.com/velora-app/callkit/internal/transport"
)

// App owns the assembled call stack for one authenticated user.
type App struct {
	cfg    config.Config
	log    *zerolog.Logger
	tokens *auth.Store

	Transport    *transport.Client
	Orchestrator *call.Orchestrator

	callLog store.CallLog
}

// New assembles the stack. presenter receives navigation intents; engine may
// be nil to run without a media backend.
func New(cfg config.Config, selfID int64, presenter call.Presenter, engine media.Engine, logger *zerolog.Logger) (*App, error) {
	tokens := &auth.Store{}

	var callLog store.CallLog
	if cfg.CallLogPath != "" {
		l, err := sqlite.New(cfg.CallLogPath)
		if err != nil {
			return nil, fmt.Errorf("init call log: %w", err)
		}
		callLog = l
		logger.Info().Str("path", cfg.CallLogPath).Msg("call log initialized")
	}

	restClient := api.NewClient(cfg.APIBaseURL, tokens, cfg.HTTPTimeout, logger)

	ws := transport.NewClient(transport.Options{
		URL:               cfg.SignalURL,
		Tokens:            tokens,
		DedupCapacity:     cfg.DedupCapacity,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectTries: cfg.MaxReconnectTries,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
	}, logger)

	if engine == nil {
		engine = media.Nop{}
	}

	deps := call.Deps{
		API:       restClient,
		Signaler:  ws,
		Presenter: presenter,
		Registry:  call.NewRegistry(cfg.GraceWindow),
		Tokens:    tokens,
		Engine:    engine,
		Log:       logger,
	}
	if callLog != nil {
		deps.History = historyAdapter{callLog}
	}

	orch := call.New(deps, call.Options{
		SelfID:      selfID,
		RingTimeout: cfg.RingTimeout,
		CloseDelay:  cfg.CloseDelay,
	})

	return &App{
		cfg:          cfg,
		log:          logger,
		tokens:       tokens,
		Transport:    ws,
		Orchestrator: orch,
		callLog:      callLog,
	}, nil
}

// SetToken installs the bearer credential used by both the REST client and
// the signaling transport.
func (a *App) SetToken(token string) {
	a.tokens.Set(token)
}

// CallLog exposes the history store, nil when no path is configured.
func (a *App) CallLog() store.CallLog {
	return a.callLog
}

// Run starts the orchestrator loop, connects the transport, and pumps
// transport events into the state machine until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.Orchestrator.Run(ctx)
	go a.Orchestrator.Consume(ctx, a.Transport.Events())

	if err := a.Transport.Connect(ctx); err != nil {
		a.log.Warn().Err(err).Msg("initial connect failed, transport will retry")
	}

	<-ctx.Done()
	a.cleanup()
	return nil
}

// Connect retries the signaling connection, e.g. after a login installs a
// fresh token.
func (a *App) Connect(ctx context.Context) error {
	return a.Transport.Connect(ctx)
}

func (a *App) cleanup() {
	if err := a.Transport.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close transport")
	}
	if a.callLog != nil {
		if err := a.callLog.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close call log")
		} else {
			a.log.Info().Msg("call log closed")
		}
	}
}
