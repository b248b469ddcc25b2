package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	grpchealth "google.golang.org/grpc/health"

	"collab-realtime/backend/internal/config"
	"collab-realtime/backend/internal/db"
	"collab-realtime/backend/internal/debounce"
	"collab-realtime/backend/internal/document"
	"collab-realtime/backend/internal/health"
	"collab-realtime/backend/internal/persistence"
	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/record/client"
	"collab-realtime/backend/internal/record/repository"
	"collab-realtime/backend/internal/security"
	"collab-realtime/backend/internal/server"
	"collab-realtime/backend/internal/session/service"
	"collab-realtime/backend/internal/telemetry"
	"collab-realtime/backend/internal/telemetry/loki"
	telemetryotel "collab-realtime/backend/internal/telemetry/otel"
	"collab-realtime/backend/internal/telemetry/producer"
	"collab-realtime/backend/internal/transport/ws"
)

const (
	serviceName         = "collab-realtime"
	healthCheckInterval = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	verifier, err := security.NewVerifier(pub, cfg.JWTIssuer, cfg.JWTAudience, nil)
	if err != nil {
		log.Fatalf("jwt verifier: %v", err)
	}
	resolver := service.NewResolver(verifier)

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetryotel.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("telemetry metrics: %v", err)
	}
	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafka := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafka != nil {
		emitters = append(emitters, kafka)
		log.Printf("telemetry: producing lifecycle events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}
	if l := loki.NewEmitter(cfg.LokiURL); l != nil {
		emitters = append(emitters, l)
	}

	var (
		store  record.Store
		pinger health.Pinger
	)
	switch cfg.RecordStore {
	case config.RecordStorePostgres:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		store = repository.NewPostgresStore(pool)
		pinger = pool
	default:
		store = client.NewHTTPStore(cfg.APIURL, cfg.APITimeout)
	}

	saves := debounce.New(nil, cfg.Debounce, cfg.DebounceMaxWait)
	bridge := persistence.NewBridge(store, saves, persistence.Options{Metrics: metrics, Events: emitters})
	registry := document.NewRegistry(bridge.OnCreateDocument, bridge.OnChange)

	collab := server.NewCollabHandler(resolver, registry, server.Options{
		Upgrader:          ws.NewUpgrader(cfg.AllowedOriginsList()),
		KeepaliveInterval: cfg.KeepaliveInterval,
		WriteTimeout:      cfg.WriteTimeout,
		Metrics:           metrics,
		Events:            emitters,
	})

	healthSrv := grpchealth.NewServer()
	checker := health.NewChecker(healthSrv, pinger, nil)
	grpcSrv := server.NewGRPCServer(healthSrv)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewMux(collab, checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checker.Run(gctx, healthCheckInterval)
		return nil
	})
	g.Go(func() error {
		log.Printf("gRPC admin server listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		log.Printf("collab server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down collab server...")
		checker.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		registry.CloseAll()
		if err := collab.Wait(shutdownCtx); err != nil {
			log.Printf("connections still open at shutdown: %v", err)
		}
		saves.Flush()
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}

	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Printf("telemetry: kafka close: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
	log.Println("collab server stopped")
}
