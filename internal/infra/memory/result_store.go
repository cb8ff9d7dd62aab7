package memory

import (
	"context"
	"sync"

	"video-quiz-engine/internal/domain"
)

// ResultStore keeps session results in memory, newest first per video.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]domain.SessionResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string][]domain.SessionResult)}
}

func (s *ResultStore) Save(_ context.Context, result domain.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.VideoRef] = append([]domain.SessionResult{result}, s.results[result.VideoRef]...)
	return nil
}

// History returns prior session results for a video, newest first.
func (s *ResultStore) History(_ context.Context, videoRef string) ([]domain.SessionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionResult(nil), s.results[videoRef]...), nil
}
