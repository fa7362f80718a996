package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/auth"
	"duoxme-bridge/internal/bus"
	"duoxme-bridge/internal/cloud"
	"duoxme-bridge/internal/config"
	"duoxme-bridge/internal/oauth"
	"duoxme-bridge/internal/push"
	"duoxme-bridge/internal/registry"
	"duoxme-bridge/internal/server"
	"duoxme-bridge/internal/snapshot"
	"duoxme-bridge/internal/storage"
	"duoxme-bridge/internal/webrtc"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	store := storage.New(cfg.StateDir)
	session := oauth.NewSessionManager(httpClient, cfg.OAuthBaseURL, cfg.Fermax, store)
	api := cloud.NewClient(httpClient, cfg.APIBaseURL)
	dispatcher := bus.New()

	reg := registry.New()
	listener, err := reg.Create(cfg.Fermax.Username, push.ListenerDeps{
		Session:    session,
		API:        api,
		Store:      store,
		Dispatcher: dispatcher,
		Registrar:  push.NewRegistrar(httpClient),
		FCMConfig:  cfg.FCM,
	})
	if err != nil {
		log.Fatal(err)
	}

	capturer := webrtc.NewCapturer(&webrtc.FFmpegDecoder{})
	snapshots := snapshot.New(snapshot.Deps{
		Session:    session,
		API:        api,
		Capturer:   capturer,
		Dispatcher: dispatcher,
		AppToken:   listener.DeviceToken,
	})
	snapshots.Start()

	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Printf("push listener failed to start: %v", err)
			stop()
		}
	}()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "duoxme-bridge",
	}
	router := server.NewRouter(server.Deps{
		Session:      session,
		Doors:        api,
		Calls:        api,
		Listener:     listener,
		Snapshots:    snapshots,
		Ring:         snapshots,
		TokenConfig:  tokenCfg,
		MasterSecret: cfg.MasterSecret,
		AccountID:    cfg.Fermax.Username,
	})

	log.Printf("listening on :%d", cfg.Port)
	if err := server.Run(ctx, cfg, router); err != nil {
		log.Printf("http server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snapshots.Stop()
	reg.StopAll(shutdownCtx)
}
