package redis

import (
	"context"
	"testing"
	"time"

	"video-quiz-engine/internal/domain"
	"video-quiz-engine/internal/infra/memory"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string][]domain.Question{
			"video-1": sampleQuestions(),
		}),
	}
	cache := NewQuestionCache(client, loader, time.Minute)

	questions, ok, err := cache.Get(context.Background(), "video-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || len(questions) != 2 {
		t.Fatalf("expected 2 questions, ok=%v got %d", ok, len(questions))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("video:video-1:questions") {
		t.Fatalf("expected redis key to be set")
	}

	// Second call should hit redis, loader not incremented.
	_, _, _ = cache.Get(context.Background(), "video-1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

func TestQuestionCacheMissIsNotError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewQuestionCache(client, memory.NewStaticQuestionLoader(nil), time.Minute)

	questions, ok, err := cache.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("expected nil error on miss, got %v", err)
	}
	if ok || questions != nil {
		t.Fatalf("expected miss, got ok=%v %+v", ok, questions)
	}
}

func TestQuestionCachePutSurvivesGet(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewQuestionCache(client, nil, time.Minute)

	if err := cache.Put(context.Background(), "video-2", sampleQuestions()); err != nil {
		t.Fatalf("put: %v", err)
	}
	questions, ok, err := cache.Get(context.Background(), "video-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || len(questions) != 2 {
		t.Fatalf("expected cached questions, ok=%v got %d", ok, len(questions))
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, videoRef string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, videoRef)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:               "q1",
			Type:             domain.QuestionMultipleChoice,
			Text:             "What color is the car?",
			Options:          []string{"Red", "Blue"},
			CorrectAnswer:    "Red",
			TimestampSeconds: 12.5,
		},
		{
			ID:               "q2",
			Type:             domain.QuestionInformational,
			Text:             "The driver changes lanes here.",
			TimestampSeconds: 30,
		},
	}
}
