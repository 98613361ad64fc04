package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/matchday/go/internal/companion"
	"github.com/mcdev12/matchday/go/internal/config"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/match"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/mcdev12/matchday/go/internal/realtime"
	"github.com/mcdev12/matchday/go/internal/relay"
	"github.com/mcdev12/matchday/go/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	opts := companion.Options{}
	if cfg.Relay.NATSURL != "" {
		nc, err := relay.Connect(cfg.Relay.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Drain()
		opts.Publisher = nc
		log.Info().Str("nats_url", cfg.Relay.NATSURL).Msg("relaying events to NATS")
	}

	app := companion.NewApp(cfg, opts)
	watch(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.OnSessionLost(func() {
		log.Error().Msg("session expired, sign in again to continue")
		stop()
	})

	if cfg.Session.AccessToken != "" {
		if err := app.Login(session.Session{
			AccessToken:  cfg.Session.AccessToken,
			RefreshToken: cfg.Session.RefreshToken,
			UserID:       cfg.Session.UserID,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to sign in")
		}
	}

	if cfg.MetricsAddr != "" {
		server := setupServer(cfg.MetricsAddr, app)
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("status server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shut down status server")
			}
		}()
	}

	if err := app.Start(ctx); err != nil {
		if errors.Is(err, realtime.ErrNotAuthenticated) {
			log.Error().Msg("no session: set MATCHDAY_ACCESS_TOKEN and MATCHDAY_REFRESH_TOKEN")
			return
		}
		log.Error().Err(err).Msg("companion stopped")
	}
}

// watch logs what a participant would see on screen.
func watch(app *companion.App) {
	app.Connection().OnStateChange(func(state realtime.State, err error) {
		log.Info().Err(err).Str("state", state.String()).Msg("push connection")
	})

	app.Dispatcher().Subscribe(events.TopicAnnouncement, func(ev events.Event) {
		payload, err := events.ParsePayload(ev)
		if err != nil {
			return
		}
		a := payload.(*events.AnnouncementPayload)
		log.Info().Str("event_id", a.EventID).Str("title", a.Title).Msg(a.Message)
	})
	app.Dispatcher().Subscribe(events.TopicTimerUpdate, func(ev events.Event) {
		payload, err := events.ParsePayload(ev)
		if err != nil {
			return
		}
		t := payload.(*events.TimerUpdatePayload)
		log.Info().
			Str("event_id", t.EventID).
			Int("round", t.RoundNumber).
			Dur("remaining", time.Duration(t.SecondsRemaining)*time.Second).
			Msg("round timer")
	})
	app.Dispatcher().Subscribe(events.TopicTournamentCompleted, func(ev events.Event) {
		log.Info().Str("event_id", ev.EventID).Msg("tournament completed")
	})

	app.OnMatchUpdate(func(eventID string, m models.Match, state match.State) {
		log.Info().
			Str("event_id", eventID).
			Str("match_id", m.ID).
			Int("round", m.RoundNumber).
			Int("table", m.TableNumber).
			Str("state", state.String()).
			Msg("match")
	})
}
