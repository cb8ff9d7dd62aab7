package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"video-quiz-engine/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionStore persists generated question lists as JSONB, one row per
// video. It backs the caches as their loader of record.
type QuestionStore struct {
	pool *pgxpool.Pool
}

func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

func (s *QuestionStore) LoadQuestions(ctx context.Context, videoRef string) ([]domain.Question, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM video_questions WHERE video_ref=$1`, videoRef).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQuestionsNotFound
		}
		return nil, fmt.Errorf("load questions: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return questions, nil
}

func (s *QuestionStore) SaveQuestions(ctx context.Context, videoRef string, questions []domain.Question) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO video_questions (video_ref, data)
		VALUES ($1, $2)
		ON CONFLICT (video_ref) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		videoRef, raw)
	if err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	return nil
}
