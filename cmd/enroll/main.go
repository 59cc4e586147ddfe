// Command enroll bulk-loads reference faces from a directory of
// <uid>.jpg images into Postgres, archiving the source images in MinIO.
// Useful when migrating an existing face_data folder to the postgres
// faces backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/doorgate/internal/config"
	"github.com/your-org/doorgate/internal/observability"
	"github.com/your-org/doorgate/internal/storage"
	"github.com/your-org/doorgate/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	sourceDir := flag.String("dir", "face_data", "directory of <uid>.jpg reference images")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting bulk enrollment", "dir", *sourceDir)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Warn("minio unavailable, source images will not be archived", "error", err)
		minioStore = nil
	} else if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

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

	entries, err := os.ReadDir(*sourceDir)
	if err != nil {
		slog.Error("read source dir", "error", err)
		os.Exit(1)
	}

	var enrolled, skipped int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".jpg") {
			continue
		}
		uid := strings.TrimSuffix(name, filepath.Ext(name))

		data, err := os.ReadFile(filepath.Join(*sourceDir, name))
		if err != nil {
			slog.Warn("read image", "file", name, "error", err)
			skipped++
			continue
		}

		embedding, err := extractor.ExtractReference(data)
		if err != nil {
			slog.Warn("no usable face, skipping", "uid", uid, "error", err)
			skipped++
			continue
		}

		var sourceKey string
		if minioStore != nil {
			sourceKey = "references/" + uid + "/" + uuid.New().String() + "_" + name
			if err := minioStore.PutReferenceImage(ctx, sourceKey, data, "image/jpeg"); err != nil {
				slog.Warn("archive source image", "uid", uid, "error", err)
				sourceKey = ""
			}
		}

		if _, err := db.UpsertReference(ctx, uid, embedding, sourceKey); err != nil {
			slog.Error("store reference", "uid", uid, "error", err)
			skipped++
			continue
		}

		slog.Info("enrolled", "uid", uid)
		enrolled++
	}

	slog.Info("bulk enrollment done", "enrolled", enrolled, "skipped", skipped)
}
