package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"video-quiz-engine/internal/domain"
)

// ResultStore persists one record per finished session. Failures are
// non-fatal to the summary.
type ResultStore interface {
	Save(ctx context.Context, result domain.SessionResult) error
}

// Session accumulates first-interaction outcomes for one continuous pass
// through the quiz. Idempotence lives here: an outcome counts only when no
// attempt record for the question exists yet. Not safe for concurrent use;
// the engine serializes all calls.
type Session struct {
	videoRef string
	results  ResultStore
	now      func() time.Time
	log      *slog.Logger

	startedAt time.Time
	endedAt   *time.Time
	attempts  map[string]*domain.QuestionAttempt
	stats     domain.SessionStats
}

func NewSession(videoRef string, results ResultStore, log *slog.Logger) *Session {
	return newSessionWithClock(videoRef, results, log, time.Now)
}

// newSessionWithClock allows deterministic timestamps in tests.
func newSessionWithClock(videoRef string, results ResultStore, log *slog.Logger, now func() time.Time) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{videoRef: videoRef, results: results, now: now, log: log}
	s.Reset()
	return s
}

// Record registers the first interaction for a question id and updates the
// counters. It returns false without changing anything when the id already
// has an attempt record.
func (s *Session) Record(questionID string, outcome domain.Outcome, selected string) bool {
	if _, exists := s.attempts[questionID]; exists {
		return false
	}
	s.attempts[questionID] = &domain.QuestionAttempt{
		QuestionID:         questionID,
		Outcome:            outcome,
		SelectedAnswer:     selected,
		FirstInteractionAt: s.now(),
	}
	s.stats.Total++
	switch outcome {
	case domain.OutcomeCorrect:
		s.stats.Correct++
	case domain.OutcomeWrong:
		s.stats.Wrong++
	case domain.OutcomeSkipped:
		s.stats.Skipped++
	}
	return true
}

// AppendRetry records a post-first-interaction outcome in the attempt's
// retry history. Counters never move here.
func (s *Session) AppendRetry(questionID string, outcome domain.Outcome, selected string) {
	attempt, ok := s.attempts[questionID]
	if !ok {
		return
	}
	attempt.RetryHistory = append(attempt.RetryHistory, outcome)
	attempt.SelectedAnswer = selected
}

// Attempt returns a copy of the attempt record for a question id.
func (s *Session) Attempt(questionID string) (domain.QuestionAttempt, bool) {
	attempt, ok := s.attempts[questionID]
	if !ok {
		return domain.QuestionAttempt{}, false
	}
	return *attempt, true
}

// Stats returns a snapshot of the running counters.
func (s *Session) Stats() domain.SessionStats {
	stats := s.stats
	stats.StartedAt = s.startedAt
	stats.EndedAt = s.endedAt
	return stats
}

// Finalize closes the session and returns its summary. The persisted-results
// write is best effort: a storage failure is logged and the summary is still
// returned. Calling Finalize again returns the same summary without a second
// write.
func (s *Session) Finalize(ctx context.Context) domain.SessionSummary {
	if s.endedAt == nil {
		ended := s.now()
		s.endedAt = &ended
		if s.results != nil {
			result := domain.SessionResult{
				VideoRef:       s.videoRef,
				Total:          s.stats.Total,
				Correct:        s.stats.Correct,
				Wrong:          s.stats.Wrong,
				Skipped:        s.stats.Skipped,
				ElapsedSeconds: s.elapsedSeconds(),
				Timestamp:      ended,
			}
			if err := s.results.Save(ctx, result); err != nil {
				s.log.Warn("failed to persist session result", "videoRef", s.videoRef, "err", err)
			}
		}
	}
	return domain.SessionSummary{
		Total:          s.stats.Total,
		Correct:        s.stats.Correct,
		Wrong:          s.stats.Wrong,
		Skipped:        s.stats.Skipped,
		ElapsedSeconds: s.elapsedSeconds(),
	}
}

// Reset clears all attempt records and counters for a restart.
func (s *Session) Reset() {
	s.startedAt = s.now()
	s.endedAt = nil
	s.attempts = make(map[string]*domain.QuestionAttempt)
	s.stats = domain.SessionStats{StartedAt: s.startedAt}
}

func (s *Session) elapsedSeconds() int {
	end := s.now()
	if s.endedAt != nil {
		end = *s.endedAt
	}
	elapsed := int(math.Round(end.Sub(s.startedAt).Seconds()))
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
