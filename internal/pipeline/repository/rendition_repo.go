package repository

import (
	"context"
	"fmt"

	"video_transcode_pipeline/internal/pipeline/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// RenditionRepo definition rendition 持久記錄的存取
// redelivery 由這份記錄恢復進度，因此每次狀態變化都必須先落盤
type RenditionRepo interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, rec *domain.RenditionRecord) error
	Get(ctx context.Context, jobID, profile string) (*domain.RenditionRecord, error)
	ListByJob(ctx context.Context, jobID string) ([]domain.RenditionRecord, error)
}

type renditionRepo struct {
	db *pgxpool.Pool
}

// NewRenditionRepo create a RenditionRepo
func NewRenditionRepo(db *pgxpool.Pool) RenditionRepo {
	return &renditionRepo{db: db}
}

func (r *renditionRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS renditions (
        job_id      TEXT        NOT NULL,
        video_id    BIGINT      NOT NULL,
        profile     TEXT        NOT NULL,
        object_key  TEXT        NOT NULL DEFAULT '',
        size_bytes  BIGINT      NOT NULL DEFAULT 0,
        checksum    TEXT        NOT NULL DEFAULT '',
        status      TEXT        NOT NULL,
        attempts    INT         NOT NULL DEFAULT 0,
        last_error  TEXT        NOT NULL DEFAULT '',
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (job_id, profile)
      )
    `)
	return err
}

// Upsert 以 (job_id, profile) 為鍵寫入或更新 rendition 記錄
func (r *renditionRepo) Upsert(ctx context.Context, rec *domain.RenditionRecord) error {
	_, err := r.db.Exec(ctx, `
      INSERT INTO renditions(job_id, video_id, profile, object_key, size_bytes, checksum, status, attempts, last_error, updated_at)
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
      ON CONFLICT (job_id, profile) DO UPDATE SET
        object_key = EXCLUDED.object_key,
        size_bytes = EXCLUDED.size_bytes,
        checksum   = EXCLUDED.checksum,
        status     = EXCLUDED.status,
        attempts   = EXCLUDED.attempts,
        last_error = EXCLUDED.last_error,
        updated_at = now()
    `,
		rec.JobID, rec.VideoID, rec.Profile, rec.ObjectKey, rec.SizeBytes, rec.Checksum,
		string(rec.Status), rec.Attempts, rec.LastError,
	)
	return err
}

func (r *renditionRepo) Get(ctx context.Context, jobID, profile string) (*domain.RenditionRecord, error) {
	row := r.db.QueryRow(ctx, `
      SELECT job_id, video_id, profile, object_key, size_bytes, checksum, status, attempts, last_error, updated_at
      FROM renditions
      WHERE job_id = $1 AND profile = $2
    `, jobID, profile)

	var rec domain.RenditionRecord
	var status string
	if err := row.Scan(
		&rec.JobID, &rec.VideoID, &rec.Profile, &rec.ObjectKey, &rec.SizeBytes,
		&rec.Checksum, &status, &rec.Attempts, &rec.LastError, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = domain.RenditionStatus(status)
	return &rec, nil
}

func (r *renditionRepo) ListByJob(ctx context.Context, jobID string) ([]domain.RenditionRecord, error) {
	rows, err := r.db.Query(ctx, `
      SELECT job_id, video_id, profile, object_key, size_bytes, checksum, status, attempts, last_error, updated_at
      FROM renditions
      WHERE job_id = $1
      ORDER BY profile
    `, jobID)
	if err != nil {
		return nil, fmt.Errorf("查詢 renditions 失敗: %w", err)
	}
	defer rows.Close()

	var recs []domain.RenditionRecord
	for rows.Next() {
		var rec domain.RenditionRecord
		var status string
		if err := rows.Scan(
			&rec.JobID, &rec.VideoID, &rec.Profile, &rec.ObjectKey, &rec.SizeBytes,
			&rec.Checksum, &status, &rec.Attempts, &rec.LastError, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = domain.RenditionStatus(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
