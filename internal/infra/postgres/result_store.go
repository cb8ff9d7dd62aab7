package postgres

import (
	"context"
	"fmt"

	"video-quiz-engine/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore persists finalized session results.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) Save(ctx context.Context, result domain.SessionResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_results (video_ref, total, correct, wrong, skipped, elapsed_seconds, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.VideoRef, result.Total, result.Correct, result.Wrong,
		result.Skipped, result.ElapsedSeconds, result.Timestamp)
	if err != nil {
		return fmt.Errorf("save session result: %w", err)
	}
	return nil
}

// History returns prior session results for a video, newest first.
func (s *ResultStore) History(ctx context.Context, videoRef string) ([]domain.SessionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT video_ref, total, correct, wrong, skipped, elapsed_seconds, finished_at
		FROM session_results
		WHERE video_ref=$1
		ORDER BY finished_at DESC`,
		videoRef)
	if err != nil {
		return nil, fmt.Errorf("load session results: %w", err)
	}
	defer rows.Close()

	var results []domain.SessionResult
	for rows.Next() {
		var r domain.SessionResult
		if err := rows.Scan(&r.VideoRef, &r.Total, &r.Correct, &r.Wrong,
			&r.Skipped, &r.ElapsedSeconds, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
