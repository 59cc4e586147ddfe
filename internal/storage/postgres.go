package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/doorgate/internal/config"
	"github.com/your-org/doorgate/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables this service needs.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS face_references (
			uid        TEXT PRIMARY KEY,
			embedding  vector(512) NOT NULL,
			source_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS access_events (
			id            UUID PRIMARY KEY,
			uid           TEXT NOT NULL,
			kind          TEXT NOT NULL,
			status        TEXT NOT NULL,
			best_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_frame    BOOLEAN NOT NULL DEFAULT FALSE,
			frame_key     TEXT NOT NULL DEFAULT '',
			occurred_at   TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS access_events_uid_idx ON access_events (uid, occurred_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Face references ---

func (s *PostgresStore) UpsertReference(ctx context.Context, uid string, embedding []float32, sourceKey string) (*models.Reference, error) {
	ref := &models.Reference{
		UID:       uid,
		Embedding: embedding,
		SourceKey: sourceKey,
	}
	vec := pgvector.NewVector(embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_references (uid, embedding, source_key)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (uid) DO UPDATE
		 SET embedding = EXCLUDED.embedding,
		     source_key = EXCLUDED.source_key,
		     updated_at = now()
		 RETURNING created_at, updated_at`,
		ref.UID, vec, ref.SourceKey,
	).Scan(&ref.CreatedAt, &ref.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert reference: %w", err)
	}
	return ref, nil
}

func (s *PostgresStore) GetReference(ctx context.Context, uid string) (*models.Reference, error) {
	ref := &models.Reference{}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT uid, embedding, source_key, created_at, updated_at FROM face_references WHERE uid = $1`, uid,
	).Scan(&ref.UID, &vec, &ref.SourceKey, &ref.CreatedAt, &ref.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get reference: %w", err)
	}
	ref.Embedding = vec.Slice()
	return ref, nil
}

func (s *PostgresStore) DeleteReference(ctx context.Context, uid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM face_references WHERE uid = $1`, uid)
	if err != nil {
		return false, fmt.Errorf("delete reference: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListReferenceUIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT uid FROM face_references ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan reference uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

// --- Access events ---

func (s *PostgresStore) InsertAccessEvent(ctx context.Context, ev *models.AccessEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_events (id, uid, kind, status, best_distance, last_frame, frame_key, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UID, ev.Kind, ev.Status, ev.BestDistance, ev.LastFrame, ev.FrameKey, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessEvent(ctx context.Context, id uuid.UUID) (*models.AccessEvent, error) {
	ev := &models.AccessEvent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, uid, kind, status, best_distance, last_frame, frame_key, occurred_at, created_at
		 FROM access_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.UID, &ev.Kind, &ev.Status, &ev.BestDistance, &ev.LastFrame, &ev.FrameKey, &ev.OccurredAt, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get access event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) QueryAccessEvents(ctx context.Context, uid string, status string, from, to *time.Time, limit, offset int) ([]models.AccessEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, uid, kind, status, best_distance, last_frame, frame_key, occurred_at, created_at
		FROM access_events WHERE 1=1`
	args := []interface{}{}

	if uid != "" {
		args = append(args, uid)
		query += fmt.Sprintf(" AND uid = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var ev models.AccessEvent
		if err := rows.Scan(&ev.ID, &ev.UID, &ev.Kind, &ev.Status, &ev.BestDistance, &ev.LastFrame, &ev.FrameKey, &ev.OccurredAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
