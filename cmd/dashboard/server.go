package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/devices"
	"github.com/smartfarm/dashboard-client/internal/engine"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/push"
	"github.com/smartfarm/dashboard-client/internal/rules"
	"github.com/smartfarm/dashboard-client/internal/selection"
)

// server is the local presentation surface: the UI reads the consolidated
// snapshot from here and routes its mutations through the repositories.
type server struct {
	store   *selection.Store
	engine  *engine.Engine
	rules   *rules.Repository
	devices *devices.Service
	push    *push.Channel
	log     *zap.Logger
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /dashboard/data", s.handleSnapshot)

	mux.HandleFunc("POST /dashboard/farm", s.handleSelectFarm)
	mux.HandleFunc("DELETE /dashboard/farm", s.handleClearFarm)

	mux.HandleFunc("POST /dashboard/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /dashboard/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /dashboard/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("POST /dashboard/devices", s.handleCreateDevice)
	mux.HandleFunc("PUT /dashboard/devices/{id}", s.handleUpdateDevice)
	mux.HandleFunc("DELETE /dashboard/devices/{id}", s.handleDeleteDevice)
	mux.HandleFunc("POST /dashboard/devices/{id}/control", s.handleControlDevice)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	st := struct {
		Status        string    `json:"status"`
		PushConnected bool      `json:"push_connected"`
		SnapshotStale bool      `json:"snapshot_stale"`
		LastUpdated   time.Time `json:"last_updated"`
	}{
		PushConnected: s.push.Connected(),
		SnapshotStale: snap.Stale,
		LastUpdated:   snap.LastUpdated,
	}
	st.Status = "ok"
	if snap.Stale {
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Farm     *model.Farm    `json:"farm"`
		Snapshot model.Snapshot `json:"snapshot"`
		Error    string         `json:"error,omitempty"`
	}{Snapshot: s.engine.Snapshot()}
	if farm, ok := s.store.Current(); ok {
		resp.Farm = &farm
	}
	if err := s.engine.LastError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSelectFarm(w http.ResponseWriter, r *http.Request) {
	var farm model.Farm
	if err := json.NewDecoder(r.Body).Decode(&farm); err != nil || farm.ID == 0 {
		writeError(w, http.StatusBadRequest, "body must be a farm with a non-zero id")
		return
	}
	s.store.Select(farm)
	writeJSON(w, http.StatusOK, farm)
}

func (s *server) handleClearFarm(w http.ResponseWriter, _ *http.Request) {
	s.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var draft rules.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule draft")
		return
	}
	rule, err := s.rules.Create(r.Context(), draft)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var draft rules.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule draft")
		return
	}
	rule, err := s.rules.Update(r.Context(), model.RuleID(id), draft)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.rules.Delete(r.Context(), model.RuleID(id)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var draft devices.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "malformed device draft")
		return
	}
	dev, err := s.devices.Create(r.Context(), draft)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

func (s *server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var draft devices.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "malformed device draft")
		return
	}
	dev, err := s.devices.Update(r.Context(), model.DeviceID(id), draft)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.devices.Delete(r.Context(), model.DeviceID(id)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Command model.Action `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed control command")
		return
	}
	if err := s.devices.Control(r.Context(), model.DeviceID(id), body.Command); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeDomainError maps repository errors onto the local surface:
// validation problems come back with their field map, backend errors keep
// the backend's status and message.
func (s *server) writeDomainError(w http.ResponseWriter, err error) {
	var ruleErr *rules.ValidationError
	if errors.As(err, &ruleErr) {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		}{"validation failed", ruleErr.Fields})
		return
	}
	var devErr *devices.ValidationError
	if errors.As(err, &devErr) {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		}{"validation failed", devErr.Fields})
		return
	}
	if errors.Is(err, selection.ErrNoneSelected) {
		writeError(w, http.StatusConflict, "no farm selected")
		return
	}
	if errors.Is(err, api.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = "backend request failed"
		}
		writeError(w, apiErr.Status, msg)
		return
	}
	s.log.Warn("request failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, "backend unavailable")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Message string `json:"message"`
	}{msg})
}
