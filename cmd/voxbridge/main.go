package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arvelin/voxbridge/internal/audio"
	"github.com/arvelin/voxbridge/internal/config"
	"github.com/arvelin/voxbridge/internal/gateway"
	"github.com/arvelin/voxbridge/internal/httpapi"
	"github.com/arvelin/voxbridge/internal/observability"
	"github.com/arvelin/voxbridge/internal/session"
	"github.com/arvelin/voxbridge/internal/transport"
	"github.com/arvelin/voxbridge/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	state := session.NewStore()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	gw := gateway.NewClient(cfg.BackendBaseURL, cfg.GatewayTimeout)
	playback := audio.NewService(gw)

	out, closeOut, err := buildOutput(cfg)
	if err != nil {
		log.Fatalf("audio output: %v", err)
	}
	defer closeOut()

	tr := buildTransport(cfg)

	orch := voice.NewOrchestrator(state, gw, tr, playback, out, metrics, voice.Config{
		Model:          cfg.Model,
		GatewayTimeout: cfg.GatewayTimeout,
		StartAttempts:  cfg.StartAttempts,
	})

	unsubscribe := state.Subscribe(func(snap session.Snapshot) {
		if snap.Status == session.StatusError {
			log.Printf("session error: %s", snap.StatusMessage)
			return
		}
		log.Printf("session state: %s", snap.Status)
	})
	defer unsubscribe()

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: httpapi.New(state).Router(),
	}
	go func() {
		log.Printf("status server listening on %s", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("status server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.StartSession(ctx); err != nil {
		log.Printf("start session: %v", err)
	}

	<-ctx.Done()
	log.Println("shutting down")

	orch.StopSession()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("status server shutdown: %v", err)
	}
}

func buildTransport(cfg config.Config) transport.Transport {
	if cfg.TransportKind == "websocket" {
		return transport.NewWebSocket(transport.WebSocketConfig{
			APIURL:      cfg.RealtimeAPIURL,
			DialTimeout: cfg.NegotiationTimeout,
		})
	}
	return transport.NewWebRTC(transport.WebRTCConfig{
		APIURL:             cfg.RealtimeAPIURL,
		ChannelName:        cfg.DataChannelName,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
}

func buildOutput(cfg config.Config) (audio.Output, func(), error) {
	if cfg.TTSOutputPath == "" {
		return audio.NewWriterOutput(io.Discard), func() {}, nil
	}
	f, err := os.OpenFile(cfg.TTSOutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	// Clips arrive as bare PCM; frame them so the capture is playable.
	return audio.NewWAVOutput(f, 0), func() { _ = f.Close() }, nil
}
