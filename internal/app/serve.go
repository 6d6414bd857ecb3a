package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/dispatcher"
	queuememory "github.com/JakeFAU/catalog-harvester/internal/queue/memory"
)

// runQueueDepth bounds the runs waiting behind the active one.
const runQueueDepth = 16

// Serve exposes the artifact API and executes submitted runs until ctx ends.
// Runs execute one at a time so the origin site sees a single paced client.
func (a *App) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, lis)
}

func (a *App) serve(ctx context.Context, lis net.Listener) error {
	queue := queuememory.NewQueue(runQueueDepth)
	dispatch := dispatcher.New(queue, a.pipeline, 1, a.logger.Named("dispatcher"))

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	apiServer, err := api.NewServer(api.Options{
		Artifacts:         a.store,
		Runs:              dispatch,
		IDs:               a.ids,
		DefaultListingURL: a.cfg.Crawler.ListingURL,
		APIKey:            apiKey,
		Logger:            a.logger.Named("api"),
	})
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("init api: %w", err)
	}

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-dispatched
	a.logger.Info("shutdown complete")

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
