package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reportdeck/reportd/pkg/dbconn"
	"github.com/reportdeck/reportd/pkg/definitions"
	"github.com/reportdeck/reportd/pkg/engine"
)

const defaultRunLogLimit = 100

// writeReportError maps domain errors onto HTTP statuses. A missing or
// unconfigured report database is a 503 so clients can distinguish
// "configure me" from genuine failures.
func (s *server) writeReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dbconn.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"report database unavailable"})
	case errors.Is(err, definitions.ErrNotFound):
		writeJSON(w, http.StatusNotFound,
			errorResponse{"report definition not found"})
	case errors.Is(err, engine.ErrInactive):
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"report definition is inactive"})
	default:
		s.log.WithError(err).Error("Report request failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// parseDefinitionID extracts and validates the {id} URL parameter.
func parseDefinitionID(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}

	return id, nil
}

// --- Definition handlers ---

// handleListDefinitions returns all report definitions.
func (s *server) handleListDefinitions(
	w http.ResponseWriter, r *http.Request,
) {
	defs, err := s.defs.List(r.Context())
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, defs)
}

// handleGetDefinition returns one report definition.
func (s *server) handleGetDefinition(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseDefinitionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	def, err := s.defs.Get(r.Context(), id)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, def)
}

type definitionRequest struct {
	ReportName      *string                      `json:"report_name"`
	StoredProcedure *string                      `json:"stored_procedure"`
	Parameters      *[]definitions.ParameterSpec `json:"parameters"`
	Active          *bool                        `json:"active"`
}

// handleCreateDefinition stores a new report definition.
func (s *server) handleCreateDefinition(
	w http.ResponseWriter, r *http.Request,
) {
	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.ReportName == nil || *req.ReportName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"report_name is required"})

		return
	}

	if req.StoredProcedure == nil || *req.StoredProcedure == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"stored_procedure is required"})

		return
	}

	var params []definitions.ParameterSpec
	if req.Parameters != nil {
		params = *req.Parameters
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	id, err := s.defs.Create(
		r.Context(), *req.ReportName, *req.StoredProcedure, params, active,
	)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	def, err := s.defs.Get(r.Context(), id)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, def)
}

// handleUpdateDefinition merges supplied fields onto a definition.
func (s *server) handleUpdateDefinition(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseDefinitionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	upd := definitions.Update{
		ReportName:      req.ReportName,
		StoredProcedure: req.StoredProcedure,
		Parameters:      req.Parameters,
		Active:          req.Active,
	}

	if err := s.defs.Update(r.Context(), id, upd); err != nil {
		s.writeReportError(w, err)

		return
	}

	def, err := s.defs.Get(r.Context(), id)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, def)
}

// handleDeleteDefinition removes a definition. Its execution log
// entries are kept.
func (s *server) handleDeleteDefinition(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseDefinitionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.defs.Delete(r.Context(), id); err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Execution handlers ---

type runReportRequest struct {
	DefinitionID int64             `json:"definition_id"`
	Values       map[string]string `json:"values"`
}

// handleRunReport executes a report definition. A failing stored
// procedure still returns 200 with status "error" in the body; only
// requests that could not be attempted get an error status.
func (s *server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	var req runReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.DefinitionID == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"definition_id is required"})

		return
	}

	user := userFromContext(r.Context())

	userName := ""
	if user != nil {
		userName = user.Username
	}

	result, err := s.engine.Execute(
		r.Context(), req.DefinitionID, req.Values, userName,
	)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleParameterValues returns the selectable values for a
// definition's parameter.
func (s *server) handleParameterValues(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseDefinitionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	param := chi.URLParam(r, "param")

	values, err := s.engine.ParameterValues(r.Context(), id, param)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"parameter": param,
		"values":    values,
	})
}

// handleProcParameters returns a routine's declared parameters from the
// runtime database's catalog.
func (s *server) handleProcParameters(
	w http.ResponseWriter, r *http.Request,
) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name query parameter is required"})

		return
	}

	params, err := s.engine.ProcParameters(r.Context(), name)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"procedure":  name,
		"parameters": params,
	})
}

// handleListStoredProcedures enumerates the runtime database's callable
// routines with their declared parameters, for definition authoring.
func (s *server) handleListStoredProcedures(
	w http.ResponseWriter, r *http.Request,
) {
	procs, err := s.engine.StoredProcedures(r.Context())
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"procedures": procs})
}

// handleListRunLog returns recent execution log entries, newest first.
func (s *server) handleListRunLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLogLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid limit"})

			return
		}

		limit = n
	}

	conn, err := s.resolver.Open(r.Context(), dbconn.RoleRuntime)
	if err != nil {
		s.writeReportError(w, err)

		return
	}
	defer conn.Close()

	entries, err := s.audit.List(r.Context(), conn, limit)
	if err != nil {
		s.writeReportError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, entries)
}
