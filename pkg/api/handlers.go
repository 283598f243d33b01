package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/run"
	"github.com/Mindburn-Labs/attest/pkg/store"
)

// startRunRequest is the wire format for POST /v1/runs.
type startRunRequest struct {
	RunID   string            `json:"run_id,omitempty"`
	ShardID string            `json:"shard_id,omitempty"`
	PRD     string            `json:"prd"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// decisionRequest is the wire format for gate decision posts.
type decisionRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor,omitempty"`
	Note     string `json:"note,omitempty"`
}

// resumeRequest is the wire format for POST /v1/runs/{id}/resume.
type resumeRequest struct {
	From string `json:"from"`
}

// runResponse wraps a run with the decision token for its pending gate.
type runResponse struct {
	*run.Run
	GateToken string `json:"gate_token,omitempty"`
}

type runListResponse struct {
	Runs  []runResponse `json:"runs"`
	Count int           `json:"count"`
}

type stepsResponse struct {
	RunID string          `json:"run_id"`
	Steps []pipeline.Step `json:"steps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PRD) == "" {
		WriteBadRequest(w, "prd is required")
		return
	}

	rn, err := s.seq.Run(r.Context(), pipeline.RunRequest{
		RunID:   req.RunID,
		ShardID: req.ShardID,
		PRD:     []byte(req.PRD),
		Labels:  req.Labels,
	})
	if err != nil {
		// A failed run is still a created resource; state and reason on
		// the body tell the caller what went wrong.
		if rn != nil && rn.State == run.StateFailed {
			s.writeJSON(w, http.StatusCreated, s.runPayload(rn))
			return
		}
		if errors.Is(err, store.ErrExists) {
			WriteConflict(w, "A run with this ID already exists")
			return
		}
		WriteInternal(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.runPayload(rn))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter store.ListFilter
	if raw := r.URL.Query().Get("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := run.State(strings.TrimSpace(part))
			if !st.Valid() {
				WriteBadRequest(w, fmt.Sprintf("unknown state %q", part))
				return
			}
			filter.States = append(filter.States, st)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = v
	}

	runs, err := s.runs.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	resp := runListResponse{Runs: make([]runResponse, 0, len(runs)), Count: len(runs)}
	for _, rn := range runs {
		resp.Runs = append(resp.Runs, s.runPayload(rn))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunSubroutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if parts[0] == "" {
		WriteBadRequest(w, "Missing run ID")
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGetRun(w, r, runID)
	case len(parts) == 2 && parts[1] == "steps":
		s.handleSteps(w, r, runID)
	case len(parts) == 2 && parts[1] == "resume":
		s.handleResume(w, r, runID)
	case len(parts) == 2 && parts[1] == "approval":
		s.handleDecision(w, r, runID, pipeline.DecisionApproval)
	case len(parts) == 2 && parts[1] == "confirmation":
		s.handleDecision(w, r, runID, pipeline.DecisionConfirmation)
	default:
		WriteNotFound(w, "Unknown resource")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	rn, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runPayload(rn))
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	steps, err := s.seq.ResumableSteps(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if steps == nil {
		steps = []pipeline.Step{}
	}
	s.writeJSON(w, http.StatusOK, stepsResponse{RunID: runID, Steps: steps})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req resumeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	from := pipeline.Step(req.From)
	if !from.Valid() {
		WriteBadRequest(w, fmt.Sprintf("unknown pipeline step %q", req.From))
		return
	}

	rn, err := s.seq.Resume(r.Context(), runID, from)
	if err != nil {
		if rn != nil && rn.State == run.StateFailed {
			s.writeJSON(w, http.StatusOK, s.runPayload(rn))
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runPayload(rn))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, runID string, kind pipeline.DecisionKind) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.cfg.Tokens != nil {
		if err := s.authorizeGate(r, runID, kind); err != nil {
			WriteUnauthorized(w, err.Error())
			return
		}
	}

	var req decisionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var accepted bool
	switch req.Decision {
	case "accepted":
		accepted = true
	case "rejected":
		accepted = false
	default:
		WriteBadRequest(w, `decision must be "accepted" or "rejected"`)
		return
	}

	rn, err := s.seq.Decide(r.Context(), runID, pipeline.Decision{
		Kind:     kind,
		Accepted: accepted,
		Actor:    req.Actor,
		Note:     req.Note,
	})
	if err != nil {
		if rn != nil && rn.State == run.StateFailed {
			s.writeJSON(w, http.StatusOK, s.runPayload(rn))
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runPayload(rn))
}

// authorizeGate checks the Bearer token against the run and gate kind.
func (s *Server) authorizeGate(r *http.Request, runID string, kind pipeline.DecisionKind) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return errors.New("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return errors.New("invalid Authorization header format (expected 'Bearer <token>')")
	}
	return s.cfg.Tokens.Validate(parts[1], runID, kind)
}

// runPayload attaches the pending gate's decision token. The token binds a
// decision post to this run and gate; a token minted for an earlier gate or
// another run is rejected.
func (s *Server) runPayload(rn *run.Run) runResponse {
	resp := runResponse{Run: rn}
	if s.cfg.Tokens == nil {
		return resp
	}
	var kind pipeline.DecisionKind
	switch rn.State {
	case run.StateAwaitingApproval:
		kind = pipeline.DecisionApproval
	case run.StateReportReady:
		kind = pipeline.DecisionConfirmation
	default:
		return resp
	}
	tok, err := s.cfg.Tokens.Mint(rn.ID, kind)
	if err != nil {
		s.logger.Error("mint gate token", "run_id", rn.ID, "error", err)
		return resp
	}
	resp.GateToken = tok
	return resp
}

// writeDomainError maps pipeline and store errors onto problem responses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound) || errors.Is(err, store.ErrNotFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, pipeline.ErrRunActive),
		errors.Is(err, lifecycle.ErrTerminalState),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, pipeline.ErrStepPrereq):
		WriteErrorR(w, r, http.StatusPreconditionFailed, "Precondition Failed", err.Error())
	default:
		WriteInternal(w, err)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WritePayloadTooLarge(w, tooLarge.Limit)
			return false
		}
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
