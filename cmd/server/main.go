package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/internal/core"
	"github.com/fedgate/fedgate/internal/frontend"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := core.Bootstrap(ctx)
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	defer app.Store.Close()

	// Expired single-use state cleanup
	app.Store.StartJanitor(ctx, time.Minute)

	// Frontend cache invalidation
	go app.Caches.Run()
	defer app.Frontends.Close()

	// SIGHUP reloads the frontend configuration in place
	if app.Config.FrontendsPath != "" {
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		go func() {
			for range reload {
				if err := frontend.Reload(app.Frontends, app.Config.FrontendsPath); err != nil {
					log.WithError(err).Error("frontend reload failed")
				}
			}
		}()
	}

	server := core.NewServer(app.Config, app.Frontends, app.Pages, app.Protocol)
	httpServer := &http.Server{
		Addr:         app.Config.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":     app.Config.ListenAddr,
			"entityId": app.Config.EntityID,
		}).Info("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("server exited")
}
