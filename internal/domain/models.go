package domain

import "time"

// QuestionType discriminates how a question is presented and scored.
type QuestionType string

const (
	QuestionMultipleChoice  QuestionType = "multiple_choice"
	QuestionObjectDetection QuestionType = "object_detection"
	QuestionInformational   QuestionType = "informational"
)

// Box is a rectangle in pixel space, ordered x1, y1, x2, y2.
type Box [4]float64

// DetectionRegion is a labeled clickable area in source-video pixel space.
type DetectionRegion struct {
	Label        string  `json:"label"`
	Box          Box     `json:"box"`
	SourceWidth  float64 `json:"sourceWidth"`
	SourceHeight float64 `json:"sourceHeight"`
}

// Question is one timeline-anchored quiz item. Immutable once normalized
// at the poller boundary; identity is ID, unique within a video's list.
type Question struct {
	ID               string            `json:"id"`
	Type             QuestionType      `json:"type"`
	Text             string            `json:"text"`
	Options          []string          `json:"options"`
	CorrectAnswer    string            `json:"correctAnswer"`
	TimestampSeconds float64           `json:"timestampSeconds"`
	DetectionRegions []DetectionRegion `json:"detectionRegions,omitempty"`
}

// JobState is the lifecycle stage of a background analysis job.
type JobState string

const (
	JobIdle       JobState = "idle"
	JobStarting   JobState = "starting"
	JobProcessing JobState = "processing"
	JobComplete   JobState = "complete"
	JobError      JobState = "error"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobError || s == JobCancelled
}

// ProcessingJob tracks one analysis job from submission to a terminal state.
type ProcessingJob struct {
	JobID           string    `json:"jobId"`
	VideoRef        string    `json:"videoRef"`
	State           JobState  `json:"state"`
	ProgressMessage string    `json:"progressMessage,omitempty"`
	PollAttempt     int       `json:"pollAttempt"`
	StartedAt       time.Time `json:"startedAt"`
	Err             error     `json:"-"`
}

// Outcome classifies how a question was resolved.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeWrong      Outcome = "wrong"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeUnanswered Outcome = "unanswered"
)

// QuestionAttempt is the per-question record for one viewing session.
// RetryHistory holds outcomes of interactions after the first; only the
// first interaction feeds the session counters.
type QuestionAttempt struct {
	QuestionID         string    `json:"questionId"`
	Outcome            Outcome   `json:"outcome"`
	SelectedAnswer     string    `json:"selectedAnswer,omitempty"`
	FirstInteractionAt time.Time `json:"firstInteractionAt"`
	RetryHistory       []Outcome `json:"retryHistory,omitempty"`
}

// SessionStats accumulates first-interaction counts for one viewing session.
// Invariant: Total == Correct + Wrong + Skipped.
type SessionStats struct {
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Total     int        `json:"total"`
	Correct   int        `json:"correct"`
	Wrong     int        `json:"wrong"`
	Skipped   int        `json:"skipped"`
}

// SessionSummary is the immutable result of finalizing a session.
type SessionSummary struct {
	Total          int `json:"total"`
	Correct        int `json:"correct"`
	Wrong          int `json:"wrong"`
	Skipped        int `json:"skipped"`
	ElapsedSeconds int `json:"elapsedSeconds"`
}

// SessionResult is the persisted record written when a session finalizes.
type SessionResult struct {
	VideoRef       string    `json:"videoRef"`
	Total          int       `json:"total"`
	Correct        int       `json:"correct"`
	Wrong          int       `json:"wrong"`
	Skipped        int       `json:"skipped"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	Timestamp      time.Time `json:"timestamp"`
}
