package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

const (
	analyzePath = "/v1/analyze"
	chatPath    = "/v1/chat"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var _ core.Analyzer = (*HTTPAnalyzer)(nil)

// HTTPAnalyzer calls the remote fault analysis service over JSON/HTTP.
type HTTPAnalyzer struct {
	base   *url.URL
	apiKey string
	client *http.Client
}

// NewHTTPAnalyzer returns an analyzer rooted at endpoint. A nil client uses a
// client with a 30s timeout.
func NewHTTPAnalyzer(endpoint, apiKey string, client *http.Client) (*HTTPAnalyzer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid analysis endpoint %q: scheme must be http or https", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAnalyzer{base: u, apiKey: apiKey, client: client}, nil
}

type chatRequest struct {
	Question  string             `json:"question"`
	Telemetry telemetry.Readings `json:"telemetry"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

// Analyze posts the readings of r and returns the service's verdict. Every
// failure, including an unknown status value, is a remote-analysis-failure.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, r telemetry.Record) (*telemetry.FaultAnalysis, error) {
	const op = "analysis.analyze"

	var out telemetry.FaultAnalysis
	if err := a.post(ctx, analyzePath, r.Readings(), &out); err != nil {
		return nil, core.Wrap(core.KindRemoteAnalysisFailure, op, err, "request failed")
	}
	if !out.Status.Valid() {
		return nil, core.Errorf(core.KindRemoteAnalysisFailure, op, "unknown status %q", out.Status)
	}
	return &out, nil
}

// Ask forwards a free-form question together with the readings of r.
func (a *HTTPAnalyzer) Ask(ctx context.Context, question string, r telemetry.Record) (string, error) {
	const op = "analysis.ask"

	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	var out chatResponse
	if err := a.post(ctx, chatPath, chatRequest{Question: question, Telemetry: r.Readings()}, &out); err != nil {
		return "", core.Wrap(core.KindRemoteAnalysisFailure, op, err, "request failed")
	}
	return out.Answer, nil
}

func (a *HTTPAnalyzer) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
