package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mkrol/allegro-watch/internal/auth"
	"github.com/mkrol/allegro-watch/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll on a schedule, with health and metrics endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Ready once the token lifecycle has settled into a signed-in state.
	e.GET("/readyz", func(c echo.Context) error {
		state := a.auth.State()
		status := http.StatusOK
		if state != auth.StateSignedIn {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]string{"auth": string(state)})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("starting server", "addr", addr)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	}()

	sched, err := engine.NewScheduler(a.engine, cfg.Schedule.PollInterval, log)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// First cycle runs immediately; sign-in needs the operator at the
	// browser anyway, better now than mid-schedule.
	go func() {
		if err := a.engine.RunCycle(context.Background()); err != nil {
			log.Error("initial poll cycle finished with errors", "error", err)
		}
	}()

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	<-sched.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	log.Info("stopped")
	return nil
}
