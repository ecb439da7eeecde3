package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HsiangNianian/acp/internal/dispatch"
	"github.com/HsiangNianian/acp/internal/server"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/HsiangNianian/acp/internal/trace"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept envelopes over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var registry store.Registry
	if cfg.Store.RedisAddr != "" {
		rr := store.NewRedisRegistry(cfg.Store.RedisAddr, cfg.Store.RedisTTL())
		defer rr.Close()
		registry = rr
		log.Info().Str("addr", cfg.Store.RedisAddr).Msg("use redis registry")
	} else {
		registry = store.NewMemoryRegistry()
		log.Info().Msg("use memory registry")
	}

	var publisher trace.Publisher = trace.Nop{}
	if cfg.Trace.KafkaBrokers != "" {
		publisher = trace.NewKafka(cfg.Trace.KafkaBrokers, cfg.Trace.Topic)
		log.Info().Str("brokers", cfg.Trace.KafkaBrokers).Str("topic", cfg.Trace.Topic).Msg("publish dispatch trace to kafka")
	}
	defer publisher.Close()

	// Inbound COMPLETE envelopes close tasks this agent delegated.
	tasks, closeTasks, err := openTasks()
	if err != nil {
		return err
	}
	defer closeTasks()
	local, release, err := newAgent(tasks)
	if err != nil {
		return err
	}
	defer release()

	d := dispatch.New(cfg.Agent.ID, registry,
		dispatch.WithCapabilities(cfg.Agent.Capabilities),
		dispatch.WithCompletionObserver(local),
		dispatch.WithLogger(log),
	)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.New(d, server.WithPublisher(publisher), server.WithLogger(log)).Handler(cfg.Server.Path, cfg.Server.WSPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("agent_id", cfg.Agent.ID).Msg("acp listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
