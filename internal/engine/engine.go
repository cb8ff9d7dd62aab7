// Package engine implements the quiz timeline engine: a poller that tracks
// the background analysis job, a scheduler that maps playback position to
// due questions, an answer/retry controller, and a session aggregator.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"video-quiz-engine/internal/domain"
)

// EventType tags the envelope sent to the host application.
type EventType string

const (
	// EventReady fires when the question list is resolved and the quiz can begin.
	EventReady EventType = "ready"
	// EventQuestion fires when a question activates; the transport is paused first.
	EventQuestion EventType = "question"
	// EventProgress relays analysis progress while the job is processing.
	EventProgress EventType = "progress"
	// EventFeedback follows an answer submission.
	EventFeedback EventType = "feedback"
	// EventSummary closes the session with final counts.
	EventSummary EventType = "summary"
	// EventJobFailed reports a fatal job error; the session itself survives.
	EventJobFailed EventType = "jobError"
)

// ProgressUpdate mirrors the job service progress message.
type ProgressUpdate struct {
	ProgressMessage string `json:"progressMessage"`
	ElapsedSeconds  int    `json:"elapsedSeconds"`
}

// Feedback is the host-visible result of an answer.
type Feedback struct {
	QuestionID     string `json:"questionId"`
	Text           string `json:"text"`
	Correct        bool   `json:"correct"`
	RetryAvailable bool   `json:"retryAvailable"`
}

// Event is the single envelope type delivered to the host.
type Event struct {
	Type      EventType              `json:"type"`
	Question  *domain.Question       `json:"question,omitempty"`
	Questions []domain.Question      `json:"questions,omitempty"`
	Progress  *ProgressUpdate        `json:"progress,omitempty"`
	Feedback  *Feedback              `json:"feedback,omitempty"`
	Summary   *domain.SessionSummary `json:"summary,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func feedbackEvent(questionID, text string, correct, retryAvailable bool) Event {
	return Event{Type: EventFeedback, Feedback: &Feedback{
		QuestionID:     questionID,
		Text:           text,
		Correct:        correct,
		RetryAvailable: retryAvailable,
	}}
}

// QuestionCache stores resolved question lists per video ref so a restarted
// session does not re-run the analysis job.
type QuestionCache interface {
	Get(ctx context.Context, videoRef string) ([]domain.Question, bool, error)
	Put(ctx context.Context, videoRef string, questions []domain.Question) error
}

// Config tunes the engine timers.
type Config struct {
	SampleInterval time.Duration
	ResumeDelay    time.Duration
	RewindSeconds  float64
	Tolerances     Tolerances
	Poller         PollerConfig
}

// DefaultConfig matches the reference timings: 500ms sampling, 2s feedback
// delay before resume, 10s rewind for the watch-again affordance.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 500 * time.Millisecond,
		ResumeDelay:    2 * time.Second,
		RewindSeconds:  10,
		Tolerances:     DefaultTolerances(),
		Poller:         DefaultPollerConfig(),
	}
}

// Deps are the engine's external collaborators.
type Deps struct {
	JobClient JobClient
	Explainer Explainer
	Cache     QuestionCache
	Results   ResultStore
	Transport Transport
	Logger    *slog.Logger
}

// Engine owns one viewing session: one processing job, one trigger
// scheduler, one answer controller and one session aggregator. All state
// mutation is serialized on a single mutex; the position-sampling timer and
// the poll loop are the only recurring timers and each has a single owned
// stop handle.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	cache QuestionCache

	poller     *Poller
	scheduler  *Scheduler
	session    *Session
	controller *Controller
	transport  *engineTransport

	events chan Event

	mu         sync.Mutex
	videoRef   string
	sampleStop chan struct{}
}

func New(cfg Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		log:    log,
		cache:  deps.Cache,
		events: make(chan Event, 32),
	}
	e.transport = &engineTransport{inner: deps.Transport}
	e.scheduler = NewScheduler(cfg.Tolerances)
	e.session = NewSession("", deps.Results, log)
	e.controller = NewController(e.scheduler, e.session, e.transport, deps.Explainer, e.emit, cfg.ResumeDelay, cfg.RewindSeconds, log)
	e.poller = NewPoller(deps.JobClient, cfg.Poller, PollerHooks{
		OnComplete: e.handleQuestions,
		OnProgress: e.handleProgress,
		OnError:    e.handleJobError,
	}, log)
	return e
}

// Events delivers engine events to the host. The channel is never closed;
// stale events are dropped rather than blocking the engine.
func (e *Engine) Events() <-chan Event { return e.events }

// StartProcessing resolves the question list for a video: from the cache
// when a prior session analyzed it, otherwise by submitting an analysis job
// and polling it to completion.
func (e *Engine) StartProcessing(ctx context.Context, videoRef string) error {
	e.mu.Lock()
	e.videoRef = videoRef
	e.session = NewSession(videoRef, e.session.results, e.log)
	e.controller.session = e.session
	e.mu.Unlock()

	if e.cache != nil {
		if questions, ok, err := e.cache.Get(ctx, videoRef); err != nil {
			e.log.Warn("question cache read failed", "videoRef", videoRef, "err", err)
		} else if ok {
			e.log.Info("questions served from cache", "videoRef", videoRef, "count", len(questions))
			e.handleQuestions(questions)
			return nil
		}
	}

	_, err := e.poller.Start(ctx, videoRef)
	return err
}

// CancelProcessing stops the analysis job. Best effort and idempotent.
func (e *Engine) CancelProcessing(ctx context.Context) {
	e.poller.Cancel(ctx)
}

// Job reports the processing job snapshot.
func (e *Engine) Job() domain.ProcessingJob { return e.poller.Job() }

// StartSession begins position sampling and playback. Any prior sampling
// timer is stopped first so exactly one runs.
func (e *Engine) StartSession() {
	e.mu.Lock()
	e.stopSamplingLocked()
	stop := make(chan struct{})
	e.sampleStop = stop
	e.mu.Unlock()

	e.transport.Play()
	go e.sampleLoop(stop)
}

// Submit evaluates an answer for the active question.
func (e *Engine) Submit(ctx context.Context, questionID, selected string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controller.Submit(ctx, questionID, selected)
}

// Skip resolves the active question as skipped.
func (e *Engine) Skip(questionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controller.Skip(questionID)
}

// TryAgain re-arms a resolved question in place and re-activates it.
func (e *Engine) TryAgain(questionID string) {
	e.mu.Lock()
	q, ok := e.controller.TryAgain(questionID)
	e.mu.Unlock()
	if ok {
		e.transport.Pause()
		e.emit(Event{Type: EventQuestion, Question: &q})
	}
}

// WatchAgain re-arms a resolved question and rewinds so the segment replays.
func (e *Engine) WatchAgain(questionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controller.WatchAgain(questionID)
}

// HandleEnded finalizes the session when playback reaches the end and emits
// the summary. Persistence failure does not block the summary.
func (e *Engine) HandleEnded(ctx context.Context) domain.SessionSummary {
	e.mu.Lock()
	e.stopSamplingLocked()
	summary := e.session.Finalize(ctx)
	e.mu.Unlock()
	e.emit(Event{Type: EventSummary, Summary: &summary})
	return summary
}

// Restart rewinds to the beginning, clears all attempts and counters, and
// re-arms every question.
func (e *Engine) Restart() {
	e.mu.Lock()
	e.session.Reset()
	e.scheduler.RearmAll()
	e.mu.Unlock()
	e.transport.Seek(0)
	e.StartSession()
}

// Question returns a loaded question by id.
func (e *Engine) Question(id string) (domain.Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.scheduler.Questions() {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

// Stats exposes the running session counters.
func (e *Engine) Stats() domain.SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Stats()
}

// Close tears down all timers. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	e.stopSamplingLocked()
	e.mu.Unlock()
	e.controller.Close()
	e.poller.Cancel(ctx)
}

func (e *Engine) sampleLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.sampleOnce()
		}
	}
}

// sampleOnce runs one scheduler tick: at most one question activates, and
// activation happens-before the transport pause is observable to the host.
func (e *Engine) sampleOnce() {
	position := e.transport.Position()

	e.mu.Lock()
	if e.scheduler.GuardBackwardSeek(position) {
		// The viewer rewound past the active question; let playback run free.
		e.mu.Unlock()
		e.transport.Play()
		return
	}
	if _, active := e.scheduler.Active(); active || !e.transport.Playing() {
		e.mu.Unlock()
		return
	}
	q, due := e.scheduler.Sample(position)
	e.mu.Unlock()

	if !due {
		return
	}
	e.transport.Pause()
	e.emit(Event{Type: EventQuestion, Question: &q})
}

func (e *Engine) handleQuestions(questions []domain.Question) {
	e.mu.Lock()
	e.scheduler.Load(questions)
	videoRef := e.videoRef
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.Put(context.Background(), videoRef, questions); err != nil {
			e.log.Warn("question cache write failed", "videoRef", videoRef, "err", err)
		}
	}
	e.emit(Event{Type: EventReady, Questions: questions})
}

func (e *Engine) handleProgress(message string, elapsedSeconds int) {
	e.emit(Event{Type: EventProgress, Progress: &ProgressUpdate{
		ProgressMessage: message,
		ElapsedSeconds:  elapsedSeconds,
	}})
}

func (e *Engine) handleJobError(err error) {
	e.emit(Event{Type: EventJobFailed, Error: err.Error()})
}

// emit never blocks: when the host is slow the oldest event is dropped in
// favor of the newest.
func (e *Engine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- event:
		default:
		}
	}
}

func (e *Engine) stopSamplingLocked() {
	if e.sampleStop != nil {
		close(e.sampleStop)
		e.sampleStop = nil
	}
}

// engineTransport wraps the host transport and tracks the playing substate
// so the sampler only runs while playback advances.
type engineTransport struct {
	inner   Transport
	playing atomic.Bool
}

func (t *engineTransport) Play() {
	t.playing.Store(true)
	if t.inner != nil {
		t.inner.Play()
	}
}

func (t *engineTransport) Pause() {
	t.playing.Store(false)
	if t.inner != nil {
		t.inner.Pause()
	}
}

func (t *engineTransport) Seek(seconds float64) {
	if t.inner != nil {
		t.inner.Seek(seconds)
	}
}

func (t *engineTransport) Position() float64 {
	if t.inner == nil {
		return 0
	}
	return t.inner.Position()
}

func (t *engineTransport) Playing() bool { return t.playing.Load() }
