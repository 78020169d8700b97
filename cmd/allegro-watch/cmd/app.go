package cmd

import (
	"log/slog"

	"github.com/mkrol/allegro-watch/internal/allegro"
	"github.com/mkrol/allegro-watch/internal/auth"
	"github.com/mkrol/allegro-watch/internal/config"
	"github.com/mkrol/allegro-watch/internal/detect"
	"github.com/mkrol/allegro-watch/internal/engine"
	"github.com/mkrol/allegro-watch/internal/notify"
	"github.com/mkrol/allegro-watch/internal/store"
)

// app bundles the wired components shared by the run, serve, and login
// commands.
type app struct {
	store  *store.FileStore
	auth   *auth.Authenticator
	engine *engine.Engine
}

func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := store.NewFileStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	codes := auth.NewBrowserCodeSource(
		cfg.OAuth.RedirectURI,
		auth.WithCaptureTimeout(cfg.OAuth.CaptureTimeout),
		auth.WithCodeSourceLogger(log),
	)

	authn := auth.New(auth.Credentials{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		OAuthURL:     cfg.OAuth.URL,
		RedirectURI:  cfg.OAuth.RedirectURI,
	}, st, codes, auth.WithLogger(log))

	limiter := allegro.NewRateLimiter(
		cfg.API.RateLimit.PerSecond,
		cfg.API.RateLimit.Burst,
		cfg.API.RateLimit.DailyLimit,
	)

	client := allegro.NewClient(authn, cfg.API.URL,
		allegro.WithAcceptLanguage(cfg.API.AcceptLanguage),
		allegro.WithRateLimiter(limiter),
	)

	eng := engine.NewEngine(
		cfg.EnabledSearches(),
		client,
		detect.New(st),
		buildNotifier(cfg, log),
		engine.WithLogger(log),
		engine.WithStaggerOffset(cfg.Schedule.StaggerOffset),
	)

	return &app{store: st, auth: authn, engine: eng}, nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notify.Notifier {
	var backends notify.Fanout

	if smtp := cfg.Notifications.SMTP; smtp.Enabled {
		backends = append(backends, notify.NewSMTPNotifier(
			smtp.Addr(), smtp.Username, smtp.Password, smtp.From, smtp.To,
		))
	}
	if d := cfg.Notifications.Discord; d.Enabled {
		backends = append(backends, notify.NewDiscordNotifier(d.WebhookURL))
	}

	switch len(backends) {
	case 0:
		return notify.NewNoOpNotifier(log)
	case 1:
		return backends[0]
	default:
		return backends
	}
}
