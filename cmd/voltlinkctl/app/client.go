package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autopeer-io/voltlink/internal/apiserver"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// errNoAnalysis is returned while the agent has no analysis result yet.
var errNoAnalysis = errors.New("no analysis result yet")

// client talks to the agent's local API.
type client struct {
	server string
	http   *http.Client
}

func newClient(server string, timeout time.Duration) *client {
	return &client{
		server: strings.TrimRight(server, "/"),
		http:   &http.Client{Timeout: timeout},
	}
}

func (c *client) Status(ctx context.Context) (*controller.Status, error) {
	var st controller.Status
	return &st, c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st)
}

func (c *client) Latest(ctx context.Context) (*telemetry.Record, error) {
	var r telemetry.Record
	return &r, c.do(ctx, http.MethodGet, "/api/v1/telemetry/latest", nil, &r)
}

func (c *client) History(ctx context.Context) ([]telemetry.Record, error) {
	var rs []telemetry.Record
	return rs, c.do(ctx, http.MethodGet, "/api/v1/telemetry/history", nil, &rs)
}

func (c *client) Analysis(ctx context.Context) (*apiserver.AnalysisResponse, error) {
	var resp apiserver.AnalysisResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/analysis", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Timestamp.IsZero() && resp.Status == "" && resp.Error == "" {
		return nil, errNoAnalysis
	}
	return &resp, nil
}

func (c *client) Connect(ctx context.Context, kind, target string) (*controller.Status, error) {
	var st controller.Status
	return &st, c.do(ctx, http.MethodPost, "/api/v1/connect", apiserver.ConnectRequest{Kind: kind, Target: target}, &st)
}

func (c *client) Disconnect(ctx context.Context) (*controller.Status, error) {
	var st controller.Status
	return &st, c.do(ctx, http.MethodPost, "/api/v1/disconnect", nil, &st)
}

func (c *client) Ask(ctx context.Context, question string) (string, error) {
	var resp apiserver.AskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ask", apiserver.AskRequest{Question: question}, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiserver.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("agent returned %s", resp.Status)
		}
		if e.ErrorKind != "" {
			return fmt.Errorf("%s (%s)", e.Error, e.ErrorKind)
		}
		return errors.New(e.Error)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
