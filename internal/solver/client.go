// File: internal/solver/client.go
// Description: Client for the JSON task-solving protocol: a create-task call
// returning a task id, fixed-interval polling of get-result until a terminal
// status, and a balance check. Backend errors surface as structured
// *BackendError values so the resolver can hand off to a human instead of
// crashing the attempt.
package solver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BackendError is a terminal error reported by the solving service itself.
type BackendError struct {
	Code        string
	Description string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("solver backend error %s: %s", e.Code, e.Description)
}

// Client talks to one configured backend.
type Client struct {
	backend Backend
	httpc   *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	pollInterval   time.Duration
	attemptTimeout time.Duration
}

// New builds a client for the backend selected in the solver config.
func New(cfg config.SolverConfig, backend Backend, logger *zap.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	return &Client{
		backend:        backend,
		httpc:          &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		log:            logger.Named("solver"),
		pollInterval:   cfg.PollInterval,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// -- Wire shapes --

type taskPayload struct {
	Type       string  `json:"type"`
	WebsiteURL string  `json:"websiteURL,omitempty"`
	WebsiteKey string  `json:"websiteKey,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
	Body       string  `json:"body,omitempty"`
}

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      taskPayload `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

// Solution is the proof material returned by a backend. Which field is
// populated depends on the challenge family.
type Solution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse,omitempty"`
	Token              string `json:"token,omitempty"`
	Text               string `json:"text,omitempty"`
}

// Proof returns the first non-empty proof value.
func (s Solution) Proof() string {
	switch {
	case s.GRecaptchaResponse != "":
		return s.GRecaptchaResponse
	case s.Token != "":
		return s.Token
	default:
		return s.Text
	}
}

type taskResultResponse struct {
	ErrorID          int      `json:"errorId"`
	ErrorCode        string   `json:"errorCode,omitempty"`
	ErrorDescription string   `json:"errorDescription,omitempty"`
	Status           string   `json:"status,omitempty"` // "processing" | "ready"
	Solution         Solution `json:"solution"`
}

type balanceRequest struct {
	ClientKey string `json:"clientKey"`
}

type balanceResponse struct {
	ErrorID          int     `json:"errorId"`
	ErrorCode        string  `json:"errorCode,omitempty"`
	ErrorDescription string  `json:"errorDescription,omitempty"`
	Balance          float64 `json:"balance"`
}

// -- Operations --

// CreateTask submits the challenge and returns the backend task id.
func (c *Client) CreateTask(ctx context.Context, ch *schemas.ChallengeInfo) (int64, error) {
	taskType, err := taskTypeFor(ch.Type)
	if err != nil {
		return 0, err
	}

	req := createTaskRequest{
		ClientKey: c.backend.APIKey,
		Task: taskPayload{
			Type:       taskType,
			WebsiteURL: ch.PageURL,
			WebsiteKey: ch.SiteKey,
		},
	}
	if ch.Type == schemas.ChallengeRecaptchaV3 {
		req.Task.MinScore = 0.3
	}

	var resp createTaskResponse
	if err := c.post(ctx, "/createTask", req, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, &BackendError{Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	c.log.Debug("Solving task created.",
		zap.Int64("task_id", resp.TaskID),
		zap.String("type", string(ch.Type)),
		zap.String("backend", string(c.backend.Kind)))
	return resp.TaskID, nil
}

// Result fetches the task result once. ready is false while the backend is
// still processing.
func (c *Client) Result(ctx context.Context, taskID int64) (*Solution, bool, error) {
	var resp taskResultResponse
	if err := c.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: c.backend.APIKey, TaskID: taskID}, &resp); err != nil {
		return nil, false, err
	}
	if resp.ErrorID != 0 {
		return nil, false, &BackendError{Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	if resp.Status != "ready" {
		return nil, false, nil
	}
	return &resp.Solution, true, nil
}

// Solve runs the full create-then-poll sequence under the configured
// per-attempt timeout and returns the proof token.
func (c *Client) Solve(ctx context.Context, ch *schemas.ChallengeInfo) (string, error) {
	solveCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	taskID, err := c.CreateTask(solveCtx, ch)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-solveCtx.Done():
			return "", fmt.Errorf("solve attempt timed out: %w", solveCtx.Err())
		case <-ticker.C:
			solution, ready, err := c.Result(solveCtx, taskID)
			if err != nil {
				return "", err
			}
			if !ready {
				continue
			}
			proof := solution.Proof()
			if proof == "" {
				return "", &BackendError{Code: "EMPTY_SOLUTION", Description: "backend reported ready with no proof value"}
			}
			return proof, nil
		}
	}
}

// Balance returns the account balance for the configured backend.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := c.post(ctx, "/getBalance", balanceRequest{ClientKey: c.backend.APIKey}, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, &BackendError{Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	return resp.Balance, nil
}

// post sends one rate-limited JSON request and decodes the response.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backend.BaseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read solver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solver returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode solver response: %w", err)
	}
	return nil
}
