package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// solverTimeout is generous: the solver replays the challenge in a headless
// browser, which routinely takes tens of seconds.
const solverTimeout = 60 * time.Second

// HTTPSolver asks a deployed challenge-solving collaborator to retrieve a
// URL on our behalf. The collaborator exposes a single POST endpoint taking
// {"url": ...} and answering {"status": ..., "body": ...}.
type HTTPSolver struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPSolver creates a solver client against the given endpoint.
func NewHTTPSolver(endpoint string) *HTTPSolver {
	return &HTTPSolver{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: solverTimeout},
	}
}

func (s *HTTPSolver) Solve(ctx context.Context, url string) ([]byte, int, error) {
	payload, err := json.Marshal(struct {
		URL string `json:"url"`
	}{URL: url})
	if err != nil {
		return nil, 0, fmt.Errorf("encode solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("solver request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("solver answered status %d", resp.StatusCode)
	}

	var answer struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&answer); err != nil {
		return nil, 0, fmt.Errorf("decode solver answer: %w", err)
	}
	return []byte(answer.Body), answer.Status, nil
}
