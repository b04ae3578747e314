package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-vdev/internal/audit"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/mqtt"
)

// datapointRequest is the body of PUT /datapoints/{target}.
type datapointRequest struct {
	Value *json.RawMessage `json:"value"`
}

// datapointEntry is one row of GET /datapoints.
type datapointEntry struct {
	Target string `json:"target"`
	Value  any    `json:"value"`
}

// handleListDatapoints returns the bus's last-known value for every target
// it has seen, sorted by target.
//
// Query parameters:
//   - device: ID or slug; limits the list to targets the device's
//     transitions write
func (s *Server) handleListDatapoints(w http.ResponseWriter, r *http.Request) {
	var only map[string]struct{}
	if ref := r.URL.Query().Get("device"); ref != "" {
		dev, err := s.registry.Resolve(r.Context(), ref)
		if err != nil {
			writeDomainError(w, err, "failed to get device")
			return
		}
		only = make(map[string]struct{})
		for _, target := range dev.Targets() {
			only[target] = struct{}{}
		}
	}

	if s.datapoints == nil {
		writeJSON(w, http.StatusOK, map[string]any{"datapoints": []datapointEntry{}, "count": 0})
		return
	}

	snapshot := s.datapoints.Snapshot()
	entries := make([]datapointEntry, 0, len(snapshot))
	for target, value := range snapshot {
		if only != nil {
			if _, ok := only[target]; !ok {
				continue
			}
		}
		entries = append(entries, datapointEntry{Target: target, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Target < entries[j].Target })

	writeJSON(w, http.StatusOK, map[string]any{"datapoints": entries, "count": len(entries)})
}

// handlePutDatapoint injects an external state change for a target. The
// value reaches pending state waits exactly as a bus state message would.
func (s *Server) handlePutDatapoint(w http.ResponseWriter, r *http.Request) {
	if s.datapoints == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state bus not available")
		return
	}

	target := chi.URLParam(r, "*")
	if err := mqtt.ValidateTarget(target); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req datapointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(*req.Value, &value); err != nil || value == nil {
		writeBadRequest(w, "value must be a JSON scalar or object")
		return
	}

	s.datapoints.Inject(target, value)
	s.logger.Debug("datapoint injected", "target", target, "value", value)
	s.record(r, audit.ActionInject, audit.EntityDatapoint, target, map[string]any{"value": value})

	writeJSON(w, http.StatusOK, datapointEntry{Target: target, Value: value})
}
