// Package app wires the client together: config, logger, persistence
// client, push channel, and the session loop.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/auth"
	"github.com/motormarket/realtime/internal/config"
	"github.com/motormarket/realtime/internal/core"
	"github.com/motormarket/realtime/internal/proto"
	"github.com/motormarket/realtime/internal/push"
	"github.com/motormarket/realtime/internal/store/httpapi"
)

// App is a fully wired realtime client.
type App struct {
	SelfID  string
	Session *core.Session
	Manager *push.Manager

	log zerolog.Logger
}

// New builds the client from config. The user identity comes from the
// token subject, so the session and the gateway always agree on who
// "self" is.
func New(cfg config.Config, logger *zerolog.Logger, alerter core.Alerter) (*App, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	selfID, err := auth.Subject(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("resolve identity from token: %w", err)
	}

	mgr := push.NewManager(push.Options{
		URL:         cfg.GatewayURL,
		Token:       cfg.Token,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Logger:      logger,
	})

	sess := core.NewSession(core.Options{
		SelfID:            selfID,
		Channel:           channel{mgr},
		Store:             httpapi.New(cfg.APIBaseURL, cfg.Token),
		Alerter:           alerter,
		Logger:            logger,
		TypingIdleTimeout: cfg.TypingIdleTimeout,
		BatchWindow:       cfg.BatchWindow,
		ReadFlushDelay:    cfg.ReadFlushDelay,
	})

	return &App{
		SelfID:  selfID,
		Session: sess,
		Manager: mgr,
		log:     logger.With().Str("component", "app").Logger(),
	}, nil
}

// Run drives the push manager and the session until ctx is cancelled.
// Connectivity flips from the manager are forwarded into the session
// so it can surface them and refetch state after a reconnect.
func (a *App) Run(ctx context.Context) {
	a.Manager.SetOnStatus(func(st push.Status) {
		if err := a.Session.SetConnectivity(connectivityOf(st)); err != nil {
			a.log.Debug().Err(err).Msg("connectivity update after session close")
		}
	})

	done := make(chan struct{})
	go func() {
		a.Manager.Run(ctx)
		close(done)
	}()

	a.Session.Run(ctx)
	<-done
	a.log.Info().Msg("client stopped")
}

func connectivityOf(st push.Status) core.Connectivity {
	switch st {
	case push.StatusConnected:
		return core.ConnectivityConnected
	case push.StatusError:
		return core.ConnectivityError
	default:
		return core.ConnectivityConnecting
	}
}

// channel adapts the push manager to the session's channel interface.
type channel struct {
	mgr *push.Manager
}

func (c channel) Subscribe(topic string, handler func(proto.Frame)) (func(), error) {
	h, err := c.mgr.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	return h.Unsubscribe, nil
}

func (c channel) Publish(ctx context.Context, topic, event string, data any) error {
	return c.mgr.Publish(ctx, topic, event, data)
}
