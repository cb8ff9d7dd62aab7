package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"video-quiz-engine/internal/domain"
)

type fakeJobClient struct {
	mu        sync.Mutex
	healthErr error
	healthFn  func() error
	submitRes SubmitResult
	submitErr error
	pollFn    func(call int) (PollResult, error)
	polls     int
	cancels   int
}

func (f *fakeJobClient) Health(context.Context) error {
	if f.healthFn != nil {
		return f.healthFn()
	}
	return f.healthErr
}

func (f *fakeJobClient) Submit(_ context.Context, _, _ string, _ SubmitOptions) (SubmitResult, error) {
	return f.submitRes, f.submitErr
}

func (f *fakeJobClient) Poll(context.Context, string) (PollResult, error) {
	f.mu.Lock()
	f.polls++
	call := f.polls
	f.mu.Unlock()
	return f.pollFn(call)
}

func (f *fakeJobClient) Cancel(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeJobClient) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// tickConfig keeps the real ticker idle so tests drive tick() directly.
func tickConfig() PollerConfig {
	cfg := DefaultPollerConfig()
	cfg.Interval = time.Hour
	return cfg
}

func processingForever(int) (PollResult, error) {
	return PollResult{Status: statusProcessing, Progress: "analyzing"}, nil
}

func TestStartRejectsEmptyVideoRef(t *testing.T) {
	p := NewPoller(&fakeJobClient{}, tickConfig(), PollerHooks{}, nil)
	if _, err := p.Start(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStartFailsFastWhenServiceDown(t *testing.T) {
	var failures []error
	client := &fakeJobClient{healthErr: errors.New("refused")}
	p := NewPoller(client, tickConfig(), PollerHooks{OnError: func(err error) { failures = append(failures, err) }}, nil)

	_, err := p.Start(context.Background(), "video-1")
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if job := p.Job(); job.State != domain.JobError {
		t.Fatalf("expected error state, got %s", job.State)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(failures))
	}
}

func TestCompleteDeliversNormalizedQuestions(t *testing.T) {
	var delivered []domain.Question
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusProcessing},
		pollFn: func(call int) (PollResult, error) {
			if call == 1 {
				return PollResult{Status: statusProcessing, Progress: "extracting keyframes"}, nil
			}
			return PollResult{Status: statusComplete, Questions: []QuestionPayload{
				{ID: "q1", Type: "multiple_choice", Text: "Pick one", Options: []string{"A", "B"}, CorrectAnswer: "B", TimestampSeconds: 80},
				{Type: "image", TimestampSeconds: -4},
				{ID: "q1", Text: "duplicate, dropped"},
			}}, nil
		},
	}
	var progress []string
	p := NewPoller(client, tickConfig(), PollerHooks{
		OnComplete: func(qs []domain.Question) { delivered = qs },
		OnProgress: func(msg string, _ int) { progress = append(progress, msg) },
	}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.tick(context.Background()) {
		t.Fatalf("expected polling to continue while processing")
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected polling to stop after completion")
	}

	if job := p.Job(); job.State != domain.JobComplete {
		t.Fatalf("expected complete, got %s", job.State)
	}
	if len(progress) != 1 || progress[0] != "extracting keyframes" {
		t.Fatalf("expected one progress update, got %+v", progress)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected duplicate id dropped, got %d questions", len(delivered))
	}
	if delivered[1].Type != domain.QuestionObjectDetection {
		t.Fatalf("expected image alias normalized, got %s", delivered[1].Type)
	}
	if delivered[1].Text == "" || delivered[1].TimestampSeconds != 0 || delivered[1].Options == nil {
		t.Fatalf("expected defaults applied, got %+v", delivered[1])
	}
}

func TestEmptyQuestionListIsFatal(t *testing.T) {
	var failure error
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusAlreadyProcessing},
		pollFn: func(int) (PollResult, error) {
			return PollResult{Status: statusComplete}, nil
		},
	}
	p := NewPoller(client, tickConfig(), PollerHooks{OnError: func(err error) { failure = err }}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("already_processing must be accepted: %v", err)
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected polling to stop")
	}
	if !errors.Is(failure, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", failure)
	}
}

func TestAttemptCeilingTimesOut(t *testing.T) {
	var failure error
	client := &fakeJobClient{submitRes: SubmitResult{Status: statusProcessing}, pollFn: processingForever}
	cfg := tickConfig()
	cfg.MaxAttempts = 3
	p := NewPoller(client, cfg, PollerHooks{OnError: func(err error) { failure = err }}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !p.tick(context.Background()) {
			t.Fatalf("attempt %d should continue", i+1)
		}
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected timeout on attempt 4")
	}
	if !errors.Is(failure, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", failure)
	}
	polls := client.pollCount()
	if p.tick(context.Background()) {
		t.Fatalf("no further polling after a terminal state")
	}
	if client.pollCount() != polls {
		t.Fatalf("poll issued after terminal state")
	}
}

func TestWallClockTimeout(t *testing.T) {
	var failure error
	client := &fakeJobClient{submitRes: SubmitResult{Status: statusProcessing}, pollFn: processingForever}
	cfg := tickConfig()
	cfg.Timeout = 3 * time.Minute
	p := NewPoller(client, cfg, PollerHooks{OnError: func(err error) { failure = err }}, nil)

	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	current := start
	p.now = func() time.Time { return current }

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.tick(context.Background()) {
		t.Fatalf("expected polling to continue")
	}
	current = start.Add(3*time.Minute + time.Second)
	if p.tick(context.Background()) {
		t.Fatalf("expected wall-clock timeout")
	}
	if !errors.Is(failure, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", failure)
	}
}

func TestTransientErrorsRetriedUntilCeiling(t *testing.T) {
	var failure error
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusProcessing},
		pollFn: func(call int) (PollResult, error) {
			if call == 1 {
				return PollResult{Status: statusProcessing}, nil
			}
			return PollResult{}, errors.New("connection reset")
		},
	}
	cfg := tickConfig()
	cfg.MaxConsecutiveErrors = 2
	p := NewPoller(client, cfg, PollerHooks{OnError: func(err error) { failure = err }}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.tick(context.Background()) { // success, resets the error count
		t.Fatalf("tick 1 should continue")
	}
	if !p.tick(context.Background()) || !p.tick(context.Background()) {
		t.Fatalf("transient errors within the ceiling must be retried")
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected fatal failure past the ceiling")
	}
	if !errors.Is(failure, domain.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", failure)
	}
}

func TestRemoteErrorIsFatal(t *testing.T) {
	var failure error
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusProcessing},
		pollFn: func(int) (PollResult, error) {
			return PollResult{Status: statusError, Error: "yolo model crashed"}, nil
		},
	}
	p := NewPoller(client, tickConfig(), PollerHooks{OnError: func(err error) { failure = err }}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected polling to stop on remote error")
	}
	if !errors.Is(failure, domain.ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed, got %v", failure)
	}
}

func TestStartRejectsSecondJobWhileRunning(t *testing.T) {
	client := &fakeJobClient{submitRes: SubmitResult{Status: statusProcessing}, pollFn: processingForever}
	p := NewPoller(client, tickConfig(), PollerHooks{}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := p.Start(context.Background(), "video-2"); !errors.Is(err, domain.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}

	p.Cancel(context.Background())
	if _, err := p.Start(context.Background(), "video-2"); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
}

func TestCancelDuringStartStaysCancelled(t *testing.T) {
	healthEntered := make(chan struct{})
	release := make(chan struct{})
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusProcessing},
		pollFn:    processingForever,
		healthFn: func() error {
			close(healthEntered)
			<-release
			return nil
		},
	}
	p := NewPoller(client, tickConfig(), PollerHooks{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Start(context.Background(), "video-1")
		done <- err
	}()

	// Cancel lands while the health check is still in flight.
	<-healthEntered
	p.Cancel(context.Background())
	if job := p.Job(); job.State != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", job.State)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}
	if job := p.Job(); job.State != domain.JobCancelled {
		t.Fatalf("cancelled job must not resurrect, got %s", job.State)
	}
	if p.tick(context.Background()) {
		t.Fatalf("no polling after cancel")
	}
	if client.pollCount() != 0 {
		t.Fatalf("poll issued for a cancelled job")
	}
	if client.cancels == 0 {
		t.Fatalf("expected a remote cancel for the submitted job")
	}
}

func TestRemoteTimeoutStatusIsFatal(t *testing.T) {
	var failure error
	client := &fakeJobClient{
		submitRes: SubmitResult{Status: statusProcessing},
		pollFn: func(int) (PollResult, error) {
			return PollResult{Status: statusTimeout}, nil
		},
	}
	p := NewPoller(client, tickConfig(), PollerHooks{OnError: func(err error) { failure = err }}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.tick(context.Background()) {
		t.Fatalf("expected polling to stop on remote timeout")
	}
	if !errors.Is(failure, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", failure)
	}
	if job := p.Job(); job.State != domain.JobError {
		t.Fatalf("expected error state, got %s", job.State)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	client := &fakeJobClient{submitRes: SubmitResult{Status: statusProcessing}, pollFn: processingForever}
	p := NewPoller(client, tickConfig(), PollerHooks{}, nil)

	if _, err := p.Start(context.Background(), "video-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Cancel(context.Background())
	p.Cancel(context.Background())

	if job := p.Job(); job.State != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", job.State)
	}
	if client.cancels != 1 {
		t.Fatalf("expected one remote cancel, got %d", client.cancels)
	}
	if p.tick(context.Background()) {
		t.Fatalf("no polling after cancel")
	}
}
