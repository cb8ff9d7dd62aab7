package domain

import "errors"

var (
	// ErrInvalidInput is returned for a bad video reference or empty answer.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTimeout indicates the analysis job exceeded its attempt ceiling or wall-clock limit.
	ErrTimeout = errors.New("processing timed out")
	// ErrConnectionLost indicates too many consecutive polling failures.
	ErrConnectionLost = errors.New("connection to processing service lost")
	// ErrServiceUnavailable indicates the liveness check before submission failed.
	ErrServiceUnavailable = errors.New("processing service unavailable")
	// ErrNoQuestions indicates the job completed without generating any questions.
	ErrNoQuestions = errors.New("no questions generated")
	// ErrProcessingFailed carries a fatal error reported by the job service.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrExplanationUnavailable is non-fatal; callers substitute generic feedback text.
	ErrExplanationUnavailable = errors.New("explanation unavailable")
	// ErrJobActive is returned when a new job is started while one is still polling.
	ErrJobActive = errors.New("a processing job is already active")
	// ErrQuestionsNotFound indicates no stored question list exists for a video.
	ErrQuestionsNotFound = errors.New("questions not found")
)
