package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"video-quiz-engine/internal/domain"
)

// Transport is the narrow playback interface the host must provide. The
// engine drives it exclusively while a question is active.
type Transport interface {
	Play()
	Pause()
	Seek(seconds float64)
	Position() float64
}

// Explainer produces child-friendly feedback for a wrong answer. Best
// effort: failures are swallowed and replaced with generic text.
type Explainer interface {
	Explain(ctx context.Context, question domain.Question, selected string) (string, error)
}

const (
	feedbackCorrect      = "That's right! Great job!"
	feedbackChecking     = "Not quite. Let's see why..."
	feedbackTryAgain     = "Not quite. Give it another try!"
	feedbackKeepWatching = "Good thinking! Keep watching."
)

// Controller validates submitted answers against the active question,
// manages the retry and rewind affordances, and feeds the session
// aggregator exactly once per first interaction. Not safe for concurrent
// use; the engine serializes all calls.
type Controller struct {
	scheduler *Scheduler
	session   *Session
	transport Transport
	explainer Explainer
	emit      func(Event)
	log       *slog.Logger

	resumeDelay   time.Duration
	rewindSeconds float64

	resumeTimer *time.Timer
}

func NewController(scheduler *Scheduler, session *Session, transport Transport, explainer Explainer, emit func(Event), resumeDelay time.Duration, rewindSeconds float64, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		scheduler:     scheduler,
		session:       session,
		transport:     transport,
		explainer:     explainer,
		emit:          emit,
		log:           log,
		resumeDelay:   resumeDelay,
		rewindSeconds: rewindSeconds,
	}
}

// Submit evaluates an answer for the active question. Submissions for a
// non-active question id are a no-op; an empty answer is rejected without
// any state change.
func (c *Controller) Submit(ctx context.Context, questionID, selected string) error {
	if strings.TrimSpace(selected) == "" {
		return fmt.Errorf("%w: empty answer", domain.ErrInvalidInput)
	}
	active, ok := c.scheduler.Active()
	if !ok || active.ID != questionID {
		return nil
	}

	correct := isCorrect(active, selected)
	outcome := domain.OutcomeWrong
	if correct {
		outcome = domain.OutcomeCorrect
	}
	if !c.session.Record(questionID, outcome, selected) {
		c.session.AppendRetry(questionID, outcome, selected)
	}
	c.scheduler.Resolve(questionID)

	if correct {
		text := feedbackCorrect
		if active.Type == domain.QuestionInformational {
			text = feedbackKeepWatching
		}
		c.emit(feedbackEvent(questionID, text, true, false))
		c.scheduleResume()
		return nil
	}

	c.emit(feedbackEvent(questionID, feedbackChecking, false, true))
	go c.explain(ctx, active, selected)
	return nil
}

// Skip resolves the active question as skipped and resumes playback
// immediately. Skipping a non-active question is a no-op.
func (c *Controller) Skip(questionID string) {
	active, ok := c.scheduler.Active()
	if !ok || active.ID != questionID {
		return
	}
	if !c.session.Record(questionID, domain.OutcomeSkipped, "") {
		c.session.AppendRetry(questionID, domain.OutcomeSkipped, "")
	}
	c.scheduler.Resolve(questionID)
	c.transport.Play()
}

// TryAgain re-arms a resolved question in place: the transport stays where
// it is and the question is re-activated immediately.
func (c *Controller) TryAgain(questionID string) (domain.Question, bool) {
	if !c.scheduler.Rearm(questionID) {
		return domain.Question{}, false
	}
	// Re-trigger at the question's own timestamp; playback is paused there.
	for _, q := range c.scheduler.Questions() {
		if q.ID == questionID {
			return c.scheduler.Sample(q.TimestampSeconds)
		}
	}
	return domain.Question{}, false
}

// WatchAgain re-arms a resolved question and rewinds the transport by a
// fixed offset so the relevant segment replays before the question
// re-triggers.
func (c *Controller) WatchAgain(questionID string) bool {
	if !c.scheduler.Rearm(questionID) {
		return false
	}
	target := c.transport.Position() - c.rewindSeconds
	if target < 0 {
		target = 0
	}
	c.transport.Seek(target)
	c.transport.Play()
	return true
}

// Close stops any pending resume timer. Idempotent.
func (c *Controller) Close() {
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
}

func (c *Controller) scheduleResume() {
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.resumeTimer = time.AfterFunc(c.resumeDelay, c.transport.Play)
}

func (c *Controller) explain(ctx context.Context, question domain.Question, selected string) {
	if c.explainer == nil {
		c.emit(feedbackEvent(question.ID, feedbackTryAgain, false, true))
		return
	}
	message, err := c.explainer.Explain(ctx, question, selected)
	if err != nil || strings.TrimSpace(message) == "" {
		c.log.Warn("explanation unavailable", "questionId", question.ID, "err", err)
		message = feedbackTryAgain
	}
	c.emit(feedbackEvent(question.ID, message, false, true))
}

func isCorrect(q domain.Question, selected string) bool {
	switch q.Type {
	case domain.QuestionInformational:
		// Informational prompts have no wrong path; acknowledging is enough.
		return true
	case domain.QuestionObjectDetection:
		expected := q.CorrectAnswer
		if expected == "" && len(q.DetectionRegions) > 0 {
			expected = q.DetectionRegions[0].Label
		}
		return expected == "" || strings.EqualFold(selected, expected)
	default:
		expected := q.CorrectAnswer
		if expected == "" && len(q.Options) > 0 {
			expected = q.Options[0]
		}
		return expected == "" || strings.EqualFold(selected, expected)
	}
}
