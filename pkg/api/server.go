package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
	"github.com/Aegis-Labs/aegis/core/pkg/approval"
	"github.com/Aegis-Labs/aegis/core/pkg/audit"
	"github.com/Aegis-Labs/aegis/core/pkg/auth"
	"github.com/Aegis-Labs/aegis/core/pkg/capability"
	"github.com/Aegis-Labs/aegis/core/pkg/orchestrator"
	"github.com/Aegis-Labs/aegis/core/pkg/signing"
)

const maxBodyBytes = 1 << 20

// Server exposes the orchestrator over HTTP.
type Server struct {
	kernel  *orchestrator.Orchestrator
	tokens  *auth.TokenService
	keyring *signing.Keyring
}

// NewServer wires the HTTP surface around a kernel instance. A non-nil
// keyring makes audit exports carry a detached Ed25519 signature header.
func NewServer(kernel *orchestrator.Orchestrator, tokens *auth.TokenService, keyring *signing.Keyring) *Server {
	return &Server{kernel: kernel, tokens: tokens, keyring: keyring}
}

// Handler builds the full middleware chain and route table. The rate limiter
// and idempotency store are owned by the returned handler's lifetime.
func (s *Server) Handler(limiter *IPRateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/actions/evaluate", s.handleEvaluate)

	mux.HandleFunc("GET /v1/operations", s.handleListOperations)
	mux.HandleFunc("POST /v1/operations/{id}/approve", s.handleVote(true))
	mux.HandleFunc("POST /v1/operations/{id}/reject", s.handleVote(false))

	mux.HandleFunc("POST /v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /v1/agents/{id}/capability", s.handleCapabilityLevel)
	mux.HandleFunc("POST /v1/agents/{id}/capability", s.handleCapabilityIncrease)
	mux.HandleFunc("POST /v1/agents/{id}/capability/apply", s.handleCapabilityApply)
	mux.HandleFunc("POST /v1/agents/{id}/capability/reset", s.handleCapabilityReset)

	mux.HandleFunc("GET /v1/emergency", s.handleListStops)
	mux.HandleFunc("POST /v1/emergency", s.handleEmergencyStop)
	mux.HandleFunc("POST /v1/emergency/{id}/resolve", s.handleResolveStop)
	mux.HandleFunc("POST /v1/presence", s.handlePresence)

	mux.HandleFunc("POST /v1/registry", s.handleRegistryCreate)
	mux.HandleFunc("GET /v1/registry", s.handleRegistryList)
	mux.HandleFunc("GET /v1/registry/{id}", s.handleRegistryGet)
	mux.HandleFunc("GET /v1/registry/{id}/lineage", s.handleRegistryLineage)
	mux.HandleFunc("POST /v1/registry/{id}/rate", s.handleRegistryRate)

	mux.HandleFunc("GET /v1/audit", s.handleAuditQuery)
	mux.HandleFunc("GET /v1/audit/stats", s.handleAuditStats)
	mux.HandleFunc("GET /v1/audit/verify", s.handleAuditVerify)
	mux.HandleFunc("GET /v1/audit/export", s.handleAuditExport)

	idempotency := IdempotencyMiddleware(NewIdempotencyStore(24 * time.Hour))

	var protected http.Handler = mux
	protected = idempotency(protected)
	protected = Authenticate(s.tokens)(protected)

	// The health probe sits outside the auth boundary.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/", protected)

	var h http.Handler = root
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = RequestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type evaluateRequest struct {
	AgentID     string         `json:"agent_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     string         `json:"context,omitempty"`
	OperationID string         `json:"operation_id,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.AgentID == "" || req.Type == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, type")
		return
	}
	a, err := action.NewAt(req.AgentID, action.Type(req.Type), req.Description, req.Parameters, req.Context, time.Now().UTC())
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	decision := s.kernel.Evaluate(r.Context(), a, req.OperationID)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleApprover); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.kernel.Workflow().Pending())
}

func (s *Server) handleVote(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requirePrincipal(w, r, auth.RoleApprover)
		if !ok {
			return
		}
		var op approval.Operation
		var err error
		if approve {
			op, err = s.kernel.Approve(r.PathValue("id"), principal.ID)
		} else {
			op, err = s.kernel.Reject(r.PathValue("id"), principal.ID)
		}
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, op)
	}
}

type registerAgentRequest struct {
	AgentID string  `json:"agent_id"`
	IQ      float64 `json:"iq"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	level, err := s.kernel.RegisterAgent(req.AgentID, req.IQ)
	if err != nil {
		WriteConflict(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, level)
}

func (s *Server) handleCapabilityLevel(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	level, err := s.kernel.Capability().Current(r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, "unknown agent")
		return
	}
	writeJSON(w, http.StatusOK, level)
}

type capabilityIncreaseRequest struct {
	RequestedIQ float64 `json:"requested_iq"`
	OperationID string  `json:"operation_id,omitempty"`
}

func (s *Server) handleCapabilityIncrease(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req capabilityIncreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	result, err := s.kernel.RequestCapabilityIncrease(r.PathValue("id"), req.RequestedIQ)
	if err != nil {
		// The gate's denial is a legitimate outcome, not a server fault.
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCapabilityApply(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req capabilityIncreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	level, err := s.kernel.ApplyApprovedIncrease(r.PathValue("id"), req.OperationID, req.RequestedIQ)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

type capabilityResetRequest struct {
	IQ     float64 `json:"iq"`
	Reason string  `json:"reason"`
}

func (s *Server) handleCapabilityReset(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, auth.RoleOperator)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req capabilityResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	level, err := s.kernel.ResetCapability(r.PathValue("id"), req.IQ, principal.ID, req.Reason)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, level)
}

type emergencyStopRequest struct {
	Reason         string   `json:"reason"`
	AffectedAgents []string `json:"affected_agents,omitempty"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, auth.RoleOperator)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	stop, err := s.kernel.EmergencyStop(principal.ID, req.Reason, req.AffectedAgents)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stop)
}

func (s *Server) handleResolveStop(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, auth.RoleOperator)
	if !ok {
		return
	}
	stop, err := s.kernel.ResolveStop(r.PathValue("id"), principal.ID)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) handleListStops(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.kernel.Emergency().ActiveStops())
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, auth.RoleOperator)
	if !ok {
		return
	}
	if err := s.kernel.ConfirmHumanPresence(principal.ID); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleAuditor); !ok {
		return
	}
	log := s.kernel.Audit()
	q := r.URL.Query()

	var entries []audit.Entry
	switch {
	case q.Get("agent") != "":
		entries = log.ByAgent(q.Get("agent"))
	case q.Get("kind") != "":
		entries = log.ByKind(audit.Kind(q.Get("kind")))
	case q.Get("outcome") != "":
		entries = log.ByOutcome(audit.Outcome(q.Get("outcome")))
	case q.Get("search") != "":
		entries = log.Search(q.Get("search"))
	default:
		entries = log.ByOutcome(audit.OutcomeBlocked)
	}

	redacted := make([]audit.Entry, len(entries))
	for i, e := range entries {
		redacted[i] = audit.Redacted(e)
	}
	writeJSON(w, http.StatusOK, redacted)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleAuditor); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.kernel.Audit().Statistics())
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleAuditor); !ok {
		return
	}
	if err := s.kernel.Audit().Verify(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "entries": s.kernel.Audit().Len(), "head": s.kernel.Audit().Head()})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleAuditor); !ok {
		return
	}
	var buf bytes.Buffer
	archive := r.URL.Query().Get("format") == "archive"
	var err error
	if archive {
		err = s.kernel.Audit().ExportArchive(&buf)
	} else {
		err = s.kernel.Audit().ExportJSON(&buf)
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	if s.keyring != nil {
		sig, err := s.keyring.Sign(buf.Bytes())
		if err != nil {
			WriteInternal(w, err)
			return
		}
		w.Header().Set("X-Aegis-Signature", sig)
	}
	if archive {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.zip"`)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(buf.Bytes())
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrOperationNotFound), errors.Is(err, capability.ErrUnknownAgent):
		WriteNotFound(w, err.Error())
	default:
		WriteConflict(w, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
