package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"video-quiz-engine/internal/domain"
	"video-quiz-engine/internal/infra/memory"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache keeps resolved question lists in Redis so repeat sessions
// of the same video skip a fresh analysis job, even across process
// restarts. Lists are stored as: SET video:{videoRef}:questions {json}
// Concurrent misses for the same video collapse into one loader call.
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get returns the cached question list, falling back to the loader on a
// miss. ok=false with a nil error means the video has never been analyzed.
func (c *QuestionCache) Get(ctx context.Context, videoRef string) ([]domain.Question, bool, error) {
	key := c.questionsKey(videoRef)

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decodeQuestions(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	if c.loader == nil {
		return nil, false, nil
	}

	result, err, _ := c.sf.Do(videoRef, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key.
		raw, err := c.client.Get(ctx, key).Result()
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", err
		}

		questions, err := c.loader.LoadQuestions(ctx, videoRef)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(questions)
		if err != nil {
			return "", err
		}
		_ = c.client.Set(ctx, key, encoded, c.ttlWithJitter()).Err()
		return string(encoded), nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuestionsNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeQuestions(result.(string))
}

// Put caches a freshly generated question list.
func (c *QuestionCache) Put(ctx context.Context, videoRef string, questions []domain.Question) error {
	encoded, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.questionsKey(videoRef), encoded, c.ttlWithJitter()).Err()
}

func (c *QuestionCache) questionsKey(videoRef string) string {
	return "video:" + videoRef + ":questions"
}

func decodeQuestions(raw string) ([]domain.Question, bool, error) {
	var questions []domain.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, false, err
	}
	return questions, true, nil
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
