package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/docscan/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, filename, fingerprint, size_bytes, status, error_kind, error_message,
	page_count, image_count, archive_key, duration_ms, created_at`

// CreateRun records a processed document
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO runs (id, filename, fingerprint, size_bytes, status, error_kind, error_message,
		                  page_count, image_count, archive_key, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, run.ID, run.Filename, run.Fingerprint, run.SizeBytes, run.Status, run.ErrorKind, run.ErrorMessage,
		run.PageCount, run.ImageCount, run.ArchiveKey, run.DurationMS,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRunByID retrieves a run by ID
func (db *DB) GetRunByID(ctx context.Context, id string) (*models.Run, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, with the total count for pagination
func (db *DB) ListRuns(ctx context.Context, params models.RunListParams) ([]models.Run, int, error) {
	where := ""
	var args []interface{}
	if params.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *params.Status)
	}

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM runs "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM runs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		runColumns, where, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	run := &models.Run{}
	err := row.Scan(
		&run.ID, &run.Filename, &run.Fingerprint, &run.SizeBytes, &run.Status, &run.ErrorKind, &run.ErrorMessage,
		&run.PageCount, &run.ImageCount, &run.ArchiveKey, &run.DurationMS, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
