package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"video-quiz-engine/internal/domain"
)

// Job service wire statuses.
const (
	statusProcessing        = "processing"
	statusAlreadyProcessing = "already_processing"
	statusComplete          = "complete"
	statusError             = "error"
	statusTimeout           = "timeout"
	statusCancelled         = "cancelled"
)

// SubmitOptions mirror the analysis request accepted by the job service.
type SubmitOptions struct {
	FullAnalysis     bool `json:"full_analysis"`
	NumQuestions     int  `json:"num_questions"`
	KeyframeInterval int  `json:"keyframe_interval"`
}

// SubmitResult is the job service's response to a submission.
type SubmitResult struct {
	Status   string `json:"status"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PollResult is one status snapshot of a running job.
type PollResult struct {
	Status    string            `json:"status"`
	Progress  string            `json:"progress,omitempty"`
	Questions []QuestionPayload `json:"questions,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// QuestionPayload is the loosely-typed question shape coming off the wire.
// It is normalized into domain.Question at the poller boundary.
type QuestionPayload struct {
	ID               string                   `json:"id"`
	Type             string                   `json:"type"`
	Text             string                   `json:"text"`
	Options          []string                 `json:"options"`
	CorrectAnswer    string                   `json:"correctAnswer"`
	TimestampSeconds float64                  `json:"timestampSeconds"`
	DetectionRegions []domain.DetectionRegion `json:"detectionRegions"`
}

// JobClient talks to the out-of-process analysis service.
type JobClient interface {
	Health(ctx context.Context) error
	Submit(ctx context.Context, jobID, videoRef string, opts SubmitOptions) (SubmitResult, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// PollerConfig bounds the polling loop.
type PollerConfig struct {
	Interval             time.Duration
	MaxAttempts          int
	Timeout              time.Duration
	MaxConsecutiveErrors int
	Submit               SubmitOptions
}

// DefaultPollerConfig matches the reference tuning: 2s interval, 150
// attempts, 3 minute wall clock, 5 consecutive errors tolerated.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:             2 * time.Second,
		MaxAttempts:          150,
		Timeout:              3 * time.Minute,
		MaxConsecutiveErrors: 5,
		Submit:               SubmitOptions{FullAnalysis: true, NumQuestions: 5, KeyframeInterval: 30},
	}
}

// PollerHooks receive job lifecycle notifications. They are invoked from the
// poll loop goroutine; nil hooks are skipped.
type PollerHooks struct {
	OnComplete func(questions []domain.Question)
	OnProgress func(message string, elapsedSeconds int)
	OnError    func(err error)
}

// Poller owns the lifecycle of one background analysis job. At most one poll
// loop runs at a time; starting a new job stops any prior loop first.
type Poller struct {
	client JobClient
	cfg    PollerConfig
	hooks  PollerHooks
	log    *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	job             domain.ProcessingJob
	consecutiveErrs int
	stop            chan struct{}
}

func NewPoller(client JobClient, cfg PollerConfig, hooks PollerHooks, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		client: client,
		cfg:    cfg,
		hooks:  hooks,
		log:    log,
		now:    time.Now,
		job:    domain.ProcessingJob{State: domain.JobIdle},
	}
}

// Start validates the reference, checks the service is alive, submits the
// job and begins polling. A liveness or submission failure is fatal and
// reported synchronously; no retry is attempted before the first poll.
// Starting while a job is still running is rejected with ErrJobActive.
func (p *Poller) Start(ctx context.Context, videoRef string) (string, error) {
	if strings.TrimSpace(videoRef) == "" {
		return "", fmt.Errorf("%w: empty video reference", domain.ErrInvalidInput)
	}

	p.mu.Lock()
	if p.job.State == domain.JobStarting || p.job.State == domain.JobProcessing {
		jobID := p.job.JobID
		p.mu.Unlock()
		return "", fmt.Errorf("%w: job %s still running", domain.ErrJobActive, jobID)
	}
	p.stopLoopLocked()
	jobID := newJobID(videoRef, p.now())
	p.job = domain.ProcessingJob{
		JobID:     jobID,
		VideoRef:  videoRef,
		State:     domain.JobStarting,
		StartedAt: p.now(),
	}
	p.consecutiveErrs = 0
	p.mu.Unlock()

	if err := p.client.Health(ctx); err != nil {
		failure := fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
		p.failJob(failure)
		return "", failure
	}

	res, err := p.client.Submit(ctx, jobID, videoRef, p.cfg.Submit)
	if err != nil {
		failure := fmt.Errorf("%w: submit: %v", domain.ErrServiceUnavailable, err)
		p.failJob(failure)
		return "", failure
	}
	switch res.Status {
	case statusProcessing, statusAlreadyProcessing:
	default:
		failure := fmt.Errorf("%w: %s", domain.ErrProcessingFailed, submitError(res))
		p.failJob(failure)
		return "", failure
	}

	p.mu.Lock()
	if p.job.State != domain.JobStarting {
		// Cancel landed while the health check or submission was in
		// flight. The local state is already terminal; make sure the
		// remote job the submission just created is asked to stop too.
		state := p.job.State
		p.mu.Unlock()
		if err := p.client.Cancel(ctx, jobID); err != nil {
			p.log.Warn("cancel request failed", "jobId", jobID, "err", err)
		}
		p.log.Info("processing aborted before polling", "jobId", jobID, "state", state)
		return jobID, nil
	}
	p.job.State = domain.JobProcessing
	p.job.ProgressMessage = res.Progress
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.log.Info("processing started", "jobId", jobID, "videoRef", videoRef)
	go p.loop(ctx, stop)
	return jobID, nil
}

func (p *Poller) loop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one poll attempt and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.job.State != domain.JobProcessing {
		p.mu.Unlock()
		return false
	}
	p.job.PollAttempt++
	attempt := p.job.PollAttempt
	jobID := p.job.JobID
	elapsed := p.now().Sub(p.job.StartedAt)
	p.mu.Unlock()

	if attempt > p.cfg.MaxAttempts || elapsed > p.cfg.Timeout {
		p.failJob(fmt.Errorf("%w after %d attempts (%s elapsed)", domain.ErrTimeout, attempt-1, elapsed.Round(time.Second)))
		return false
	}

	res, err := p.client.Poll(ctx, jobID)
	if err != nil {
		p.mu.Lock()
		p.consecutiveErrs++
		errs := p.consecutiveErrs
		p.mu.Unlock()
		if errs > p.cfg.MaxConsecutiveErrors {
			p.failJob(fmt.Errorf("%w: %d consecutive poll failures", domain.ErrConnectionLost, errs))
			return false
		}
		p.log.Warn("poll attempt failed", "jobId", jobID, "attempt", attempt, "err", err)
		return true
	}

	p.mu.Lock()
	p.consecutiveErrs = 0
	if res.Progress != "" {
		p.job.ProgressMessage = res.Progress
	}
	p.mu.Unlock()

	switch res.Status {
	case statusProcessing:
		if p.hooks.OnProgress != nil && res.Progress != "" {
			p.hooks.OnProgress(res.Progress, int(elapsed.Seconds()))
		}
		return true
	case statusComplete:
		questions := NormalizeQuestions(res.Questions)
		if len(questions) == 0 {
			p.failJob(domain.ErrNoQuestions)
			return false
		}
		p.mu.Lock()
		p.job.State = domain.JobComplete
		p.mu.Unlock()
		p.log.Info("processing complete", "jobId", jobID, "questions", len(questions))
		if p.hooks.OnComplete != nil {
			p.hooks.OnComplete(questions)
		}
		return false
	case statusCancelled:
		p.mu.Lock()
		p.job.State = domain.JobCancelled
		p.mu.Unlock()
		return false
	case statusTimeout:
		p.failJob(fmt.Errorf("%w: reported by processing service", domain.ErrTimeout))
		return false
	default:
		msg := res.Error
		if msg == "" {
			msg = res.Status
		}
		p.failJob(fmt.Errorf("%w: %s", domain.ErrProcessingFailed, msg))
		return false
	}
}

// Cancel asks the service to stop the job, then forces the local state to
// cancelled regardless of the remote outcome. Safe to call repeatedly.
func (p *Poller) Cancel(ctx context.Context) {
	p.mu.Lock()
	jobID := p.job.JobID
	terminal := p.job.State.Terminal() || p.job.State == domain.JobIdle
	p.stopLoopLocked()
	if !terminal {
		p.job.State = domain.JobCancelled
	}
	p.mu.Unlock()

	if jobID == "" || terminal {
		return
	}
	if err := p.client.Cancel(ctx, jobID); err != nil {
		p.log.Warn("cancel request failed", "jobId", jobID, "err", err)
	}
}

// Job returns a snapshot of the current job state.
func (p *Poller) Job() domain.ProcessingJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

func (p *Poller) failJob(err error) {
	p.mu.Lock()
	p.job.State = domain.JobError
	p.job.Err = err
	p.stopLoopLocked()
	p.mu.Unlock()
	p.log.Error("processing failed", "err", err)
	if p.hooks.OnError != nil {
		p.hooks.OnError(err)
	}
}

func (p *Poller) stopLoopLocked() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func submitError(res SubmitResult) string {
	if res.Error != "" {
		return res.Error
	}
	return "submission rejected with status " + res.Status
}

func newJobID(videoRef string, now time.Time) string {
	suffix := now.UnixNano() % 1_000_000
	ref := videoRef
	if len(ref) > 24 {
		ref = ref[:24]
	}
	return fmt.Sprintf("video-%d-%06d", now.Unix(), suffix) + "-" + sanitizeRef(ref)
}

func sanitizeRef(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// NormalizeQuestions validates raw question payloads into the immutable
// Question shape. Missing text gets a placeholder prompt, missing options an
// empty list, missing timestamps zero. Duplicate ids keep the first
// occurrence; ids are synthesized by position when absent.
func NormalizeQuestions(payloads []QuestionPayload) []domain.Question {
	questions := make([]domain.Question, 0, len(payloads))
	seen := make(map[string]struct{}, len(payloads))
	for i, raw := range payloads {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			id = fmt.Sprintf("q%d", i+1)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		text := strings.TrimSpace(raw.Text)
		if text == "" {
			text = "What did you just see?"
		}
		options := raw.Options
		if options == nil {
			options = []string{}
		}
		ts := raw.TimestampSeconds
		if ts < 0 {
			ts = 0
		}
		questions = append(questions, domain.Question{
			ID:               id,
			Type:             normalizeType(raw.Type),
			Text:             text,
			Options:          options,
			CorrectAnswer:    strings.TrimSpace(raw.CorrectAnswer),
			TimestampSeconds: ts,
			DetectionRegions: raw.DetectionRegions,
		})
	}
	return questions
}

func normalizeType(raw string) domain.QuestionType {
	switch strings.TrimSpace(raw) {
	case string(domain.QuestionObjectDetection), "object", "image", "detection":
		return domain.QuestionObjectDetection
	case string(domain.QuestionInformational), "info":
		return domain.QuestionInformational
	default:
		return domain.QuestionMultipleChoice
	}
}
