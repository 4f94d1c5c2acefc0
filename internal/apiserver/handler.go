package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ConnectRequest is the body of POST /api/v1/connect.
type ConnectRequest struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse answers an AskRequest.
type AskResponse struct {
	Answer string `json:"answer"`
}

// AnalysisResponse is the last analysis outcome. Either the analysis
// fields or the error fields are set.
type AnalysisResponse struct {
	Status         telemetry.FaultStatus `json:"status,omitempty"`
	Analysis       string                `json:"analysis,omitempty"`
	Recommendation string                `json:"recommendation,omitempty"`
	ErrorKind      core.ErrorKind        `json:"errorKind,omitempty"`
	Error          string                `json:"error,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string         `json:"error"`
	ErrorKind core.ErrorKind `json:"errorKind,omitempty"`
}

type handler struct {
	controller     Controller
	analysis       AnalysisSource
	analyzer       core.Analyzer
	connectTimeout time.Duration
	logger         log.Logger
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (h *handler) ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *handler) getLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Latest())
}

func (h *handler) getHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.History())
}

func (h *handler) connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, ok := core.ParseTransportKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown transport kind %q", req.Kind))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.connectTimeout)
	defer cancel()

	if _, err := h.controller.Connect(ctx, kind, req.Target); err != nil {
		writeError(w, connectStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func connectStatusCode(err error) int {
	switch core.KindOf(err) {
	case core.KindTransportUnavailable:
		return http.StatusServiceUnavailable
	case core.KindDeviceSelectionCancelled:
		return http.StatusRequestTimeout
	case core.KindHandshakeFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *handler) disconnect(w http.ResponseWriter, _ *http.Request) {
	h.controller.Disconnect()
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *handler) getAnalysis(w http.ResponseWriter, _ *http.Request) {
	if h.analysis == nil {
		writeError(w, http.StatusNotFound, errors.New("analysis is disabled"))
		return
	}
	res := h.analysis.Last()
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := AnalysisResponse{Timestamp: res.At}
	if res.Err != nil {
		resp.ErrorKind = core.KindOf(res.Err)
		resp.Error = res.Err.Error()
	} else if res.Analysis != nil {
		resp.Status = res.Analysis.Status
		resp.Analysis = res.Analysis.Analysis
		resp.Recommendation = res.Analysis.Recommendation
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) ask(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("analysis is disabled"))
		return
	}

	var req AskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	answer, err := h.analyzer.Ask(r.Context(), req.Question, h.controller.Latest())
	if err != nil {
		code := http.StatusBadGateway
		if core.KindOf(err) == core.KindUnknown {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{Answer: answer})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), ErrorKind: core.KindOf(err)})
}
