package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Aegis-Labs/aegis/core/pkg/auth"
	"github.com/Aegis-Labs/aegis/core/pkg/registry"
)

type registerRecordRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URI         string   `json:"uri,omitempty"`
	Services    []string `json:"services,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
}

func (s *Server) handleRegistryCreate(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r, auth.RoleOperator); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req registerRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	var record registry.AgentRecord
	var err error
	if req.ParentID != "" {
		record, err = s.kernel.Registry().RegisterChild(req.ParentID, req.Name, req.Description, req.URI, req.Services)
	} else {
		record, err = s.kernel.Registry().Register(req.Name, req.Description, req.URI, req.Services)
	}
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			WriteNotFound(w, err.Error())
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleRegistryList(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	writeJSON(w, http.StatusOK, s.kernel.Registry().All())
}

func (s *Server) handleRegistryGet(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	record, err := s.kernel.Registry().Get(r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRegistryLineage(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	lineage, err := s.kernel.Registry().Lineage(r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

type rateRequest struct {
	RaterID string `json:"rater_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

func (s *Server) handleRegistryRate(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	agentID := r.PathValue("id")
	if err := s.kernel.Registry().Rate(agentID, req.RaterID, req.Score, req.Comment); err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			WriteNotFound(w, err.Error())
		case errors.Is(err, registry.ErrDuplicateRate):
			WriteConflict(w, err.Error())
		default:
			WriteBadRequest(w, err.Error())
		}
		return
	}
	mean, _ := s.kernel.Registry().Reputation(agentID)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":   agentID,
		"reputation": mean,
		"ratings":    len(s.kernel.Registry().Ratings(agentID)),
	})
}
