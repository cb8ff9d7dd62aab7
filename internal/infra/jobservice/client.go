// Package jobservice is the HTTP client for the out-of-process analysis
// service that turns a video into a question list.
package jobservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"video-quiz-engine/internal/domain"
	"video-quiz-engine/internal/engine"
)

// Client implements engine.JobClient and engine.Explainer over the job
// service's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type processRequest struct {
	VideoURL string `json:"youtube_url"`
	engine.SubmitOptions
}

type explainRequest struct {
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	CorrectAnswer  string   `json:"correct_answer"`
	SelectedAnswer string   `json:"selected_answer"`
}

type explainResponse struct {
	Message string `json:"message"`
}

// Health checks the service liveness. Any failure means the service is
// treated as unavailable for this attempt.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Submit asks the service to analyze a video under the given job id.
func (c *Client) Submit(ctx context.Context, jobID, videoRef string, opts engine.SubmitOptions) (engine.SubmitResult, error) {
	var result engine.SubmitResult
	payload := processRequest{VideoURL: videoRef, SubmitOptions: opts}
	err := c.postJSON(ctx, "/api/v1/video/process/"+url.PathEscape(jobID), payload, &result)
	if err != nil {
		return engine.SubmitResult{}, fmt.Errorf("submit job: %w", err)
	}
	return result, nil
}

// Poll fetches one status snapshot; the service advances its pipeline as a
// side effect of being polled.
func (c *Client) Poll(ctx context.Context, jobID string) (engine.PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/video/polling/"+url.PathEscape(jobID), nil)
	if err != nil {
		return engine.PollResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return engine.PollResult{}, fmt.Errorf("poll job: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return engine.PollResult{}, fmt.Errorf("poll job: unexpected status %d", resp.StatusCode)
	}
	var result engine.PollResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return engine.PollResult{}, fmt.Errorf("poll job: decode: %w", err)
	}
	return result, nil
}

// Cancel is best effort; callers tolerate any error.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.postJSON(ctx, "/api/v1/video/cancel/"+url.PathEscape(jobID), struct{}{}, nil)
}

// Explain asks for child-friendly feedback on a wrong answer.
func (c *Client) Explain(ctx context.Context, question domain.Question, selected string) (string, error) {
	payload := explainRequest{
		Question:       question.Text,
		Options:        question.Options,
		CorrectAnswer:  question.CorrectAnswer,
		SelectedAnswer: selected,
	}
	var result explainResponse
	if err := c.postJSON(ctx, "/api/v1/video/explain", payload, &result); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExplanationUnavailable, err)
	}
	if result.Message == "" {
		return "", domain.ErrExplanationUnavailable
	}
	return result.Message, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
