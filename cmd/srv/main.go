package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"time"

	config "github.com/4chain-ag/go-overlay-services/pkg/appconfig"
	"github.com/4chain-ag/go-overlay-services/pkg/core/engine"
	"github.com/4chain-ag/go-overlay-services/pkg/core/engine/enginehttp"
	"github.com/4chain-ag/go-overlay-services/pkg/core/engine/storage"
	"github.com/4chain-ag/go-overlay-services/pkg/core/shipslap"
	"github.com/4chain-ag/go-overlay-services/pkg/server"
	"github.com/gookit/slog"
)

func main() {
	configPath := flag.String("C", config.DefaultConfigFilePath, "Path to the configuration file")
	flag.Parse()

	loader := config.NewLoader("OVERLAY")
	if err := loader.SetConfigFilePath(*configPath); err != nil {
		slog.Fatalf("Invalid config file path: %v", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		slog.Fatalf("failed to load config: %v", err)
	}

	if err := config.PrettyPrintAs(cfg, "json"); err != nil {
		slog.Fatalf("failed to pretty print config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Fatalf("Invalid configuration: %v", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.SQLitePath)
	if err != nil {
		slog.Fatalf("failed to open storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Errorf("failed to close storage: %v", err)
		}
	}()

	identityKey, err := hex.DecodeString(cfg.Engine.IdentityKeyHex)
	if err != nil {
		slog.Fatalf("invalid engine.identity_key_hex: %v", err)
	}

	shipLookup := shipslap.NewSHIPLookupService()
	slapLookup := shipslap.NewSLAPLookupService()
	shipSlapAdvertiser := shipslap.NewAdvertiser(identityKey, cfg.Engine.HostingURL, shipLookup, slapLookup)

	overlayEngine := engine.NewEngine(engine.Engine{
		Storage:      store,
		HostingURL:   cfg.Engine.HostingURL,
		SHIPTrackers: cfg.Engine.SHIPTrackers,
		SLAPTrackers: cfg.Engine.SLAPTrackers,
		Verbose:      cfg.Engine.Verbose,
		Managers: map[string]engine.TopicManager{
			shipslap.TopicSHIP: shipslap.NewSHIPTopicManager(),
			shipslap.TopicSLAP: shipslap.NewSLAPTopicManager(),
		},
		LookupServices: map[string]engine.LookupService{
			shipslap.ServiceSHIP: shipLookup,
			shipslap.ServiceSLAP: slapLookup,
		},
		Advertiser: shipSlapAdvertiser,
		Gossiper:   enginehttp.NewPeerGossiper(time.Duration(cfg.Gossip.RequestTimeoutSeconds) * time.Second),
	})

	serverCfg := &server.Config{
		AppName:          cfg.AppName,
		Port:             cfg.Port,
		Addr:             cfg.Addr,
		ServerHeader:     cfg.ServerHeader,
		AdminBearerToken: cfg.AdminBearerToken,
	}

	opts := []server.HTTPOption{
		server.WithConfig(serverCfg),
		server.WithMiddleware(loggingMiddleware),
		server.WithEngine(overlayEngine),
	}

	httpAPI, err := server.New(opts...)
	if err != nil {
		slog.Fatalf("Failed to create HTTP server: %v", err)
	}

	idleConnsClosed := httpAPI.StartWithGracefulShutdown(context.Background())
	<-idleConnsClosed
	slog.Info("Server shut down gracefully.")
}

// loggingMiddleware is a custom definition of the logging middleware format accepted by the HTTP API.
func loggingMiddleware(next http.Handler) http.Handler {
	slog.SetLogLevel(slog.DebugLevel)
	slog.SetFormatter(slog.NewJSONFormatter(func(f *slog.JSONFormatter) {
		f.PrettyPrint = true
	}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.WithFields(slog.M{
			"category":    "service",
			"method":      r.Method,
			"remote-addr": r.RemoteAddr,
			"request-uri": r.RequestURI,
		})
		logger.Info("log-line")
		next.ServeHTTP(w, r)
	})
}
