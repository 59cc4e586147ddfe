package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/doorgate/internal/api"
	"github.com/your-org/doorgate/internal/api/ws"
	"github.com/your-org/doorgate/internal/audit"
	"github.com/your-org/doorgate/internal/config"
	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/gate"
	"github.com/your-org/doorgate/internal/models"
	"github.com/your-org/doorgate/internal/observability"
	"github.com/your-org/doorgate/internal/storage"
	"github.com/your-org/doorgate/internal/vision"
	"github.com/your-org/doorgate/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting doorgate service",
		"port", cfg.Server.Port,
		"faces_backend", cfg.Faces.Backend,
		"session_ttl", cfg.Gate.SessionTTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres. Required for the postgres faces backend and
	// the audit trail; the dir backend can gate without it.
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		if cfg.Faces.Backend == "postgres" {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Warn("postgres unavailable, audit browsing disabled", "error", err)
		db = nil
	}
	if db != nil {
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Warn("ensure postgres schema", "error", err)
		}
	}

	// Connect to MinIO for the frame archive.
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Warn("minio unavailable, frame archive disabled", "error", err)
		minioStore = nil
	}
	if minioStore != nil {
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
	}

	// Connect to NATS for the best-effort audit log.
	var recorder audit.Recorder = audit.Nop{}
	var natsRecorder *audit.NATSRecorder
	if cfg.NATS.URL != "" {
		natsRecorder, err = audit.NewNATSRecorder(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, audit events disabled", "error", err)
		} else {
			defer natsRecorder.Close()
			if err := natsRecorder.EnsureStream(ctx); err != nil {
				slog.Warn("ensure nats stream", "error", err)
			}
			recorder = natsRecorder
		}
	}

	// Initialize ONNX Runtime and the embedding extractor. Without it
	// no frame can be evaluated, so failure is fatal.
	if err := vision.InitRuntime(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	extractor, err := vision.NewExtractor(cfg.Vision)
	if err != nil {
		slog.Error("init extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	// Reference embedding store.
	var faceStore face.AdminStore
	switch cfg.Faces.Backend {
	case "postgres":
		faceStore = face.NewPostgresStore(db)
	default:
		faceStore, err = face.NewDirStore(cfg.Faces.ReferenceDir, extractor)
		if err != nil {
			slog.Error("init reference dir store", "error", err)
			os.Exit(1)
		}
	}

	// Session registry and gating service.
	registry := gate.NewRegistry(cfg.Gate.SessionTTL)
	go registry.Run(ctx, cfg.Gate.SweepInterval)

	svc := gate.NewService(faceStore, extractor, registry, recorder,
		cfg.Gate.MatchThreshold, cfg.Gate.AllowInferredUID)
	if minioStore != nil {
		svc.SetFrameArchive(minioStore)
	}

	// WebSocket hub + audit event consumer feeding it.
	hub := ws.NewHub()
	go hub.Run()

	if natsRecorder != nil {
		consumer, err := audit.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Warn("create audit consumer", "error", err)
		} else {
			defer consumer.Close()
			err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
				var ev models.AccessEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					return err
				}

				if db != nil {
					if err := db.InsertAccessEvent(ctx, &ev); err != nil {
						slog.Warn("store access event", "error", err)
					}
				}

				resp := dto.AccessEventResponse{
					ID:           ev.ID,
					UID:          ev.UID,
					Kind:         string(ev.Kind),
					Status:       ev.Status,
					BestDistance: ev.BestDistance,
					LastFrame:    ev.LastFrame,
					OccurredAt:   ev.OccurredAt.Format(time.RFC3339),
				}
				if ev.FrameKey != "" {
					resp.FrameURL = "/v1/events/" + ev.ID.String() + "/frame"
				}
				hub.BroadcastEvent(&dto.WSEvent{
					Type: "access_" + string(ev.Kind),
					UID:  ev.UID,
					Data: resp,
				})
				return nil
			})
			if err != nil {
				slog.Warn("start audit consumer", "error", err)
			}
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:    cfg.Server.APIKey,
		Gate:      svc,
		Faces:     faceStore,
		DB:        db,
		MinIO:     minioStore,
		Recorder:  natsRecorder,
		Hub:       hub,
		ExtractFn: extractor.ExtractReference,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("doorgate listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down doorgate...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("doorgate stopped")
}
