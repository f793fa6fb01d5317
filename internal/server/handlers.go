package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/knowledge"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
)

type sqlRequest struct {
	SQL string `json:"sql"`
}

type buildRequest struct {
	ForceRebuild  bool                     `json:"force_rebuild"`
	BusinessRules *knowledge.BusinessRules `json:"business_rules,omitempty"`
}

type businessRuleRequest struct {
	RuleName       string `json:"rule_name"`
	RuleDefinition string `json:"rule_definition"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Intp("max_corrections", req.MaxCorrections))
	result, err := s.svc.QueryToSQL(r.Context(), req)
	if err != nil {
		s.fail(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := s.svc.ValidateSQL(r.Context(), req.SQL)
	if err != nil {
		s.fail(w, "validation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plan, err := s.svc.ExplainSQL(r.Context(), req.SQL)
	if err != nil {
		s.fail(w, "explain failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("knowledge build request", zap.Bool("force", req.ForceRebuild))
	result, err := s.svc.BuildKnowledgeBase(r.Context(), pipeline.BuildOptions{Force: req.ForceRebuild, Rules: req.BusinessRules})
	if err != nil {
		s.fail(w, "knowledge build failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="knowledge_base.json"`)
	if err := s.svc.Export(r.Context(), w); err != nil {
		// Headers may already be written; log only.
		s.logger.Error("export failed", zap.Error(err))
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Import(r.Context(), r.Body)
	if err != nil {
		s.fail(w, "import failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "imported", "documents": n})
}

func (s *Server) handleAddBusinessRule(w http.ResponseWriter, r *http.Request) {
	var req businessRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.AddBusinessRule(r.Context(), req.RuleName, req.RuleDefinition); err != nil {
		s.fail(w, "add business rule failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"rule_name": req.RuleName, "status": "added"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSpace(r.URL.Query().Get("table_name"))
	info, err := s.svc.SchemaInfo(r.Context(), table)
	if err != nil {
		s.fail(w, "schema info failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(apperrors.CodeOf(err)),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
