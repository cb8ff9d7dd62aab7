package engine

import (
	"testing"

	"video-quiz-engine/internal/domain"
)

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Type: domain.QuestionMultipleChoice, Text: "What muscle causes hiccups?", Options: []string{"Heart", "Diaphragm"}, CorrectAnswer: "Diaphragm", TimestampSeconds: 30},
		{ID: "q2", Type: domain.QuestionMultipleChoice, Text: "Pick one", Options: []string{"A", "B"}, CorrectAnswer: "B", TimestampSeconds: 80},
		{ID: "q3", Type: domain.QuestionObjectDetection, Text: "Click the dog", CorrectAnswer: "dog", TimestampSeconds: 90},
	}
}

func newTestScheduler() *Scheduler {
	s := NewScheduler(DefaultTolerances())
	s.Load(testQuestions())
	return s
}

func TestSampleActivatesWithinTolerance(t *testing.T) {
	s := newTestScheduler()

	if _, ok := s.Sample(10); ok {
		t.Fatalf("expected no question due at 10s")
	}
	q, ok := s.Sample(30.4)
	if !ok || q.ID != "q1" {
		t.Fatalf("expected q1 active at 30.4s, got %+v ok=%v", q, ok)
	}
	if _, ok := s.Sample(30.4); ok {
		t.Fatalf("expected no second activation while q1 is active")
	}
}

func TestSampleActivatesAtMostOnePerTick(t *testing.T) {
	s := NewScheduler(DefaultTolerances())
	s.Load([]domain.Question{
		{ID: "b", Type: domain.QuestionMultipleChoice, TimestampSeconds: 50},
		{ID: "a", Type: domain.QuestionMultipleChoice, TimestampSeconds: 50},
	})

	q, ok := s.Sample(50)
	if !ok {
		t.Fatalf("expected a question due at 50s")
	}
	if q.ID != "a" {
		t.Fatalf("expected tie broken by ascending id, got %s", q.ID)
	}
	if _, ok := s.Sample(50); ok {
		t.Fatalf("only one question may activate per tick")
	}
}

func TestDetectionToleranceIsTight(t *testing.T) {
	s := newTestScheduler()

	if _, ok := s.Sample(90.5); ok {
		t.Fatalf("object_detection question must not trigger 0.5s off")
	}
	q, ok := s.Sample(90.2)
	if !ok || q.ID != "q3" {
		t.Fatalf("expected q3 at 90.2s, got %+v ok=%v", q, ok)
	}
}

func TestResolveAndRearm(t *testing.T) {
	s := newTestScheduler()

	if s.Rearm("q1") {
		t.Fatalf("pending question must not be re-armable")
	}
	if _, ok := s.Sample(30); !ok {
		t.Fatalf("expected q1 active")
	}
	if s.Rearm("q1") {
		t.Fatalf("active question must not be re-armable")
	}
	if !s.Resolve("q1") {
		t.Fatalf("expected resolve to succeed")
	}
	if !s.Resolved("q1") {
		t.Fatalf("expected q1 resolved")
	}
	if !s.Rearm("q1") {
		t.Fatalf("resolved question must re-arm")
	}
	q, ok := s.Sample(30)
	if !ok || q.ID != "q1" {
		t.Fatalf("expected re-armed q1 to trigger again, got %+v ok=%v", q, ok)
	}
}

func TestRearmedQuestionHasRewatchPriority(t *testing.T) {
	s := NewScheduler(DefaultTolerances())
	s.Load([]domain.Question{
		{ID: "early", Type: domain.QuestionMultipleChoice, TimestampSeconds: 29},
		{ID: "late", Type: domain.QuestionMultipleChoice, TimestampSeconds: 30},
	})

	q, _ := s.Sample(29)
	if q.ID != "early" {
		t.Fatalf("expected early first, got %s", q.ID)
	}
	s.Resolve("early")
	q, _ = s.Sample(30)
	if q.ID != "late" {
		t.Fatalf("expected late second, got %s", q.ID)
	}
	s.Resolve("late")

	s.Rearm("early")
	s.Rearm("late")

	// Both are pending and within tolerance of 29.5. Scan order would pick
	// "early"; the most recently re-armed question wins instead.
	q, ok := s.Sample(29.5)
	if !ok || q.ID != "late" {
		t.Fatalf("expected most recently re-armed question preferred, got %+v ok=%v", q, ok)
	}
}

func TestBackwardSeekGuardClearsWithoutResolving(t *testing.T) {
	s := newTestScheduler()

	if _, ok := s.Sample(30); !ok {
		t.Fatalf("expected q1 active")
	}
	if s.GuardBackwardSeek(29.5) {
		t.Fatalf("0.5s before the timestamp is within slack")
	}
	if !s.GuardBackwardSeek(25) {
		t.Fatalf("expected guard to clear the active question")
	}
	if _, ok := s.Active(); ok {
		t.Fatalf("expected no active question after guard")
	}
	if s.Resolved("q1") {
		t.Fatalf("guarded question must not be resolved")
	}
	// It triggers again when the position comes back around.
	if q, ok := s.Sample(30); !ok || q.ID != "q1" {
		t.Fatalf("expected q1 to re-trigger, got %+v ok=%v", q, ok)
	}
}

func TestRearmAllResetsEverything(t *testing.T) {
	s := newTestScheduler()
	s.Sample(30)
	s.Resolve("q1")
	s.Sample(80)
	s.RearmAll()

	if _, ok := s.Active(); ok {
		t.Fatalf("expected no active question after RearmAll")
	}
	if q, ok := s.Sample(30); !ok || q.ID != "q1" {
		t.Fatalf("expected q1 pending again, got %+v ok=%v", q, ok)
	}
}
