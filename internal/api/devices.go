package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-vdev/internal/audit"
	"github.com/nerrad567/gray-logic-vdev/internal/automation"
	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

// maxPathParamLen limits path parameter length to prevent DoS via oversized URLs.
const maxPathParamLen = 100

// abortSettleTimeout bounds how long DELETE waits for an aborted run to settle.
const abortSettleTimeout = 2 * time.Second

// Run history page bounds for GET /devices/{id}/runs.
const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// deviceResponse is a device plus its in-flight run, if any.
type deviceResponse struct {
	*automation.Device
	ActiveRun *automation.RunInfo `json:"active_run,omitempty"`
}

// devicePatch holds the fields PATCH may change. Transitions, when present,
// replace the whole set.
type devicePatch struct {
	Name        *string                `json:"name"`
	Slug        *string                `json:"slug"`
	Description *string                `json:"description"`
	Enabled     *bool                  `json:"enabled"`
	Transitions map[string]chain.Chain `json:"transitions"`
}

// fields lists the JSON names of the fields present in the patch.
func (p devicePatch) fields() []string {
	var fields []string
	for name, set := range map[string]bool{
		"name":        p.Name != nil,
		"slug":        p.Slug != nil,
		"description": p.Description != nil,
		"enabled":     p.Enabled != nil,
		"transitions": p.Transitions != nil,
	} {
		if set {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// createRequest accepts a device with enabled defaulting to true.
type createRequest struct {
	automation.Device
	Enabled *bool `json:"enabled"`
}

// triggerRequest is the optional body of POST /devices/{id}/transitions/{name}.
type triggerRequest struct {
	TriggerType   string `json:"trigger_type"`
	TriggerSource string `json:"trigger_source"`
}

// deviceParam reads and bounds the {id} path parameter.
func deviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxPathParamLen {
		writeBadRequest(w, "invalid device ID")
		return "", false
	}
	return id, true
}

// handleListDevices returns all virtual devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID or slug.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	dev, err := s.registry.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	resp := deviceResponse{Device: dev}
	if run, active := s.controller.ActiveRun(dev.ID); active {
		info := run.Info()
		resp.ActiveRun = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateDevice creates a new virtual device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dev := req.Device
	dev.Enabled = req.Enabled == nil || *req.Enabled

	if err := s.registry.Create(r.Context(), &dev); err != nil {
		writeDomainError(w, err, "failed to create device")
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityDevice, dev.ID, map[string]any{
		"name":        dev.Name,
		"slug":        dev.Slug,
		"transitions": dev.TransitionNames(),
	})

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device. A run already in flight
// keeps executing the chain it started with.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	existing, err := s.registry.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	var patch devicePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	changed := patch.fields()
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Slug != nil {
		existing.Slug = *patch.Slug
	}
	if patch.Description != nil {
		existing.Description = patch.Description
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.Transitions != nil {
		existing.Transitions = patch.Transitions
	}

	if err := s.registry.Update(r.Context(), existing); err != nil {
		writeDomainError(w, err, "failed to update device")
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityDevice, existing.ID, map[string]any{"fields": changed})

	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice aborts any in-flight run and removes the device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	dev, err := s.registry.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	details := map[string]any{"name": dev.Name, "slug": dev.Slug}

	// Let the aborted run settle so its record is final before the
	// cascade removes it. A run stuck in a bus write keeps the device.
	if run, active := s.controller.ActiveRun(dev.ID); active && s.controller.Abort(dev.ID) {
		details["aborted_run"] = run.ID
		waitCtx, cancel := context.WithTimeout(r.Context(), s.settleTimeout)
		//nolint:errcheck // the run's own error is the abort we just requested
		run.Wait(waitCtx)
		cancel()

		select {
		case <-run.Done():
		default:
			s.logger.Warn("aborted run did not settle, device kept",
				"device_id", dev.ID,
				"run_id", run.ID,
			)
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
				"aborted run has not settled yet; retry the delete")
			return
		}
		s.logger.Info("aborted run of deleted device", "device_id", dev.ID, "run_id", run.ID)
	}

	if err := s.registry.Delete(r.Context(), dev.ID); err != nil {
		writeDomainError(w, err, "failed to delete device")
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityDevice, dev.ID, details)

	w.WriteHeader(http.StatusNoContent)
}

// handleTrigger starts a transition's chain and returns the run ID.
// This is an asynchronous operation: the response is 202 Accepted and the
// outcome arrives via WebSocket, MQTT and the run log. With ?wait=true the
// handler instead blocks until the run settles and returns its record.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxPathParamLen {
		writeBadRequest(w, "invalid transition name")
		return
	}

	var req triggerRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.TriggerType == "" {
		req.TriggerType = "manual"
	}
	if req.TriggerSource == "" {
		req.TriggerSource = "api"
		if claims := claimsFrom(r.Context()); claims != nil {
			req.TriggerSource = claims.Subject
		}
	}

	run, err := s.controller.Trigger(r.Context(), id, name, req.TriggerType, req.TriggerSource)
	if err != nil {
		writeDomainError(w, err, "failed to trigger transition")
		return
	}
	s.record(r, audit.ActionTrigger, audit.EntityDevice, run.DeviceID, map[string]any{
		"transition":   run.Transition,
		"run_id":       run.ID,
		"trigger_type": req.TriggerType,
	})

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait { //nolint:errcheck // absent or malformed means false
		select {
		case <-run.Done():
			writeJSON(w, http.StatusOK, run.Record())
		case <-r.Context().Done():
			// Client gone; the run carries on regardless.
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"device_id":  run.DeviceID,
		"transition": run.Transition,
		"status":     "accepted",
	})
}

// handleAbort requests an abort of the device's in-flight run. Aborting an
// idle device is not an error.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	dev, err := s.registry.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	resp := map[string]any{"device_id": dev.ID, "aborted": false}
	if run, active := s.controller.ActiveRun(dev.ID); active && s.controller.Abort(dev.ID) {
		resp["aborted"] = true
		resp["run_id"] = run.ID
		s.record(r, audit.ActionAbort, audit.EntityDevice, dev.ID, map[string]any{"run_id": run.ID})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListRuns returns the device's run history, newest first.
//
// Query parameters:
//   - limit: page size (default 20, max 200)
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	dev, err := s.registry.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), dev.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleActiveRuns lists in-flight runs across all devices.
func (s *Server) handleActiveRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.controller.Active()
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one run record by ID.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" || len(runID) > maxPathParamLen {
		writeBadRequest(w, "invalid run ID")
		return
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, automation.ErrRunNotFound) {
			writeNotFound(w, "run not found")
			return
		}
		writeInternalError(w, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
