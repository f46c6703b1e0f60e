package main

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/clients/matches_client"
	"github.com/socrefy/matchdesk/go/internal/config"
	"github.com/socrefy/matchdesk/go/internal/console"
	"github.com/socrefy/matchdesk/go/internal/journal"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/realtime"
)

type Services struct {
	Matches        *matches_client.MatchesClient
	Realtime       *realtime.Connection
	RealtimeDriver string
	Console        *console.Service
}

func setupServices(cfg *config.Config, recorder journal.Recorder) *Services {
	// Backend client → shared realtime connection → per-match rooms → console
	matches := matches_client.NewMatchesClient(cfg.API.BaseURL, cfg.API.MatchesPath, cfg.API.BearerToken)
	matches.SetTimeout(cfg.API.Timeout)

	conn, driver := setupRealtime(cfg)

	roomOpts := controlroom.Options{
		Clock:        clockwork.NewRealClock(),
		PollInterval: cfg.Polling.Interval,
		TeamTimeout:  cfg.Timeouts.TeamTimeout,
		Journal:      recorder,
		Production:   cfg.IsProduction(),
	}
	if conn != nil {
		roomOpts.Connector = conn
	}

	consoleCfg := console.DefaultConfig()
	consoleCfg.Room = roomOpts
	consoleCfg.RoomIdleTimeout = cfg.Timeouts.RoomIdle

	return &Services{
		Matches:        matches,
		Realtime:       conn,
		RealtimeDriver: driver,
		Console:        console.NewService(consoleCfg, matches),
	}
}

// setupRealtime builds the shared push connection. Missing credentials degrade
// to polling only.
func setupRealtime(cfg *config.Config) (*realtime.Connection, string) {
	var (
		transport realtime.Transport
		err       error
	)
	switch cfg.Realtime.Driver {
	case config.DriverReverb:
		r := cfg.Realtime.Reverb
		transport, err = realtime.NewPusherTransport(realtime.PusherConfig{
			AppKey:       r.AppKey,
			Host:         r.Host,
			Port:         r.Port,
			Scheme:       r.Scheme,
			AuthEndpoint: r.AuthEndpoint,
			CSRFURL:      r.CSRFURL,
			BearerToken:  cfg.API.BearerToken,
		})
	case config.DriverNATS:
		natsCfg := realtime.DefaultNATSConfig()
		natsCfg.URL = cfg.Realtime.NATS.URL
		natsCfg.Token = cfg.Realtime.NATS.Token
		transport, err = realtime.NewNATSTransport(natsCfg)
	default:
		return nil, config.DriverNone
	}

	if err != nil {
		if errors.Is(err, realtime.ErrMissingCredentials) {
			log.Warn().Str("driver", cfg.Realtime.Driver).Msg("realtime credentials missing, relying on polling")
		} else {
			log.Error().Err(err).Str("driver", cfg.Realtime.Driver).Msg("failed to configure realtime, relying on polling")
		}
		return nil, config.DriverNone
	}
	return realtime.NewConnection(transport), cfg.Realtime.Driver
}

// Close tears down the realtime connection.
func (s *Services) Close() {
	if s.Realtime == nil {
		return
	}
	if err := s.Realtime.Teardown(); err != nil {
		log.Warn().Err(err).Msg("failed to close realtime connection")
	}
}
