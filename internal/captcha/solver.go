// Package captcha talks to the external challenge-solving service.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Solver resolves challenge images through an HTTP solving service. It backs
// the premium auto-solve path; a request is one GET with the challenge URL.
type Solver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type solveResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
}

func NewSolver(baseURL string, timeout time.Duration, logger *zap.Logger) *Solver {
	return &Solver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Solve submits the challenge URL and returns the recognized answer.
func (s *Solver) Solve(ctx context.Context, challengeURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/solve/?url=%s", s.baseURL, url.QueryEscape(challengeURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build solver request: %w", err)
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call solver service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solver service returned status %d", resp.StatusCode)
	}

	var out solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode solver response: %w", err)
	}
	if !out.Success || out.Answer == "" {
		return "", fmt.Errorf("solver could not read the challenge")
	}

	s.logger.Debug("challenge solved",
		zap.Duration("took", time.Since(started)))
	return out.Answer, nil
}
