package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-vdev/internal/audit"
)

// auditSource labels entries written by the REST API.
const auditSource = "api"

// record writes an audit entry when an audit repository is configured.
// Failures are logged and never fail the request.
func (s *Server) record(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     auditSource,
		Details:    details,
	}
	if claims := claimsFrom(r.Context()); claims != nil {
		entry.Actor = claims.Subject
	}

	if err := s.audit.Create(context.WithoutCancel(r.Context()), entry); err != nil {
		s.logger.Warn("failed to record audit entry",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action, entity_type, entity_id, actor: exact-match filters
//   - limit: page size (default 50, max 200)
//   - offset: entries to skip
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("actor"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
