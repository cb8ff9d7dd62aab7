package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"video-quiz-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches a stored question list from a backing store.
// Implementations return domain.ErrQuestionsNotFound when no analysis has
// been persisted for the video.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, videoRef string) ([]domain.Question, error)
}

// QuestionCache keeps resolved question lists in memory with TTL so repeat
// sessions of the same video skip both the backing store and a fresh
// analysis job. Concurrent misses for the same video collapse into one
// loader call.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

// Get returns the cached question list, falling back to the loader on a
// miss. ok=false with a nil error means the video has never been analyzed.
func (c *QuestionCache) Get(ctx context.Context, videoRef string) ([]domain.Question, bool, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[videoRef]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, true, nil
	}
	c.mu.RUnlock()

	if c.loader == nil {
		return nil, false, nil
	}

	result, err, _ := c.sf.Do(videoRef, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[videoRef]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		questions, err := c.loader.LoadQuestions(ctx, videoRef)
		if err != nil {
			return nil, err
		}
		c.store(videoRef, questions)
		return questions, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuestionsNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return result.([]domain.Question), true, nil
}

// Put caches a freshly generated question list.
func (c *QuestionCache) Put(_ context.Context, videoRef string, questions []domain.Question) error {
	c.store(videoRef, questions)
	return nil
}

func (c *QuestionCache) store(videoRef string, questions []domain.Question) {
	c.mu.Lock()
	c.cache[videoRef] = cachedQuestions{
		questions: questions,
		expiresAt: c.clock().Add(c.ttlWithJitter()),
	}
	c.mu.Unlock()
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves question lists from an in-memory map (useful
// for tests/demos).
type StaticQuestionLoader struct {
	videos map[string][]domain.Question
}

func NewStaticQuestionLoader(videos map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{videos: videos}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, videoRef string) ([]domain.Question, error) {
	if questions, ok := l.videos[videoRef]; ok {
		return questions, nil
	}
	return nil, domain.ErrQuestionsNotFound
}
