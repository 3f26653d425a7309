package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Chuffnugget/BrightDock/internal/display"
)

// sourceAPI tags writes submitted through the REST API.
const sourceAPI = "api"

// controlResponse is one control's cached value.
type controlResponse struct {
	Value     *int               `json:"value"`
	State     display.ValueState `json:"state"`
	Label     string             `json:"label,omitempty"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// monitorResponse is one display with its cached state.
type monitorResponse struct {
	ID       int                          `json:"id"`
	Model    string                       `json:"model"`
	Bus      string                       `json:"bus"`
	Controls map[string]controlResponse   `json:"controls"`
	Options  map[string]map[string]string `json:"options,omitempty"`
}

// setControlRequest is the body of PUT /monitors/{id}/{control}.
type setControlRequest struct {
	Value  *int   `json:"value"`
	Source string `json:"source,omitempty"`
}

// setControlResponse acknowledges a queued write.
type setControlResponse struct {
	RequestID   string             `json:"request_id"`
	DeviceID    int                `json:"device_id"`
	Control     display.Control    `json:"control"`
	Value       int                `json:"value"`
	State       display.ValueState `json:"state"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// handleListMonitors returns every known display with its current values.
func (s *Server) handleListMonitors(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()

	monitors := make([]monitorResponse, 0, len(snap.Devices))
	for _, ds := range snap.Devices {
		monitors = append(monitors, newMonitorResponse(ds))
	}
	sort.Slice(monitors, func(i, j int) bool { return monitors[i].ID < monitors[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"monitors": monitors,
		"count":    len(monitors),
	})
}

// handleGetMonitor returns one display's full state.
func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.lookupMonitor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newMonitorResponse(ds))
}

// handleGetControl returns {"<control>": value, "state": ..., "label": ...}.
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.lookupMonitor(w, r)
	if !ok {
		return
	}
	ctrl, ok := parseControlParam(w, r)
	if !ok {
		return
	}

	cr := newControlResponse(ds, ctrl)
	body := map[string]any{
		ctrl.String(): cr.Value,
		"state":       cr.State,
	}
	if cr.Label != "" {
		body["label"] = cr.Label
	}
	if cr.UpdatedAt != nil {
		body["updated_at"] = cr.UpdatedAt
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetOptions returns the option table of an enumerated control,
// keyed by two-digit hex code.
func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.lookupMonitor(w, r)
	if !ok {
		return
	}
	ctrl, ok := parseControlParam(w, r)
	if !ok {
		return
	}
	if ctrl.Kind() != display.KindEnumerated {
		writeBadRequest(w, fmt.Sprintf("%s is not an enumerated control", ctrl))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"control": ctrl,
		"options": hexOptions(ds.Options[ctrl]),
	})
}

// handleSetControl validates and queues a write. The cache is updated
// optimistically before the response is sent.
func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	id, ok := parseMonitorID(w, r)
	if !ok {
		return
	}
	ctrl, ok := parseControlParam(w, r)
	if !ok {
		return
	}

	var req setControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	source := req.Source
	if source == "" {
		source = sourceAPI
	}

	wr, err := s.coord.RequestWrite(id, ctrl, *req.Value, source)
	if err != nil {
		writeDisplayError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, setControlResponse{
		RequestID:   wr.ID,
		DeviceID:    wr.DeviceID,
		Control:     wr.Control,
		Value:       wr.Value,
		State:       display.StateOptimistic,
		SubmittedAt: wr.SubmittedAt,
	})
}

// handleGetSync returns the latest SyncStatus.
func (s *Server) handleGetSync(w http.ResponseWriter, _ *http.Request) {
	status := s.coord.LastSyncStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": status.ConnectionLabel(),
		"status":     status,
	})
}

// handleRefresh schedules an immediate poll cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.coord.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// lookupMonitor resolves the {id} parameter, writing 400 or 404 on failure.
func (s *Server) lookupMonitor(w http.ResponseWriter, r *http.Request) (display.DeviceState, bool) {
	id, ok := parseMonitorID(w, r)
	if !ok {
		return display.DeviceState{}, false
	}
	ds, found := s.coord.DeviceState(id)
	if !found {
		writeNotFound(w, fmt.Sprintf("monitor %d not found", id))
		return display.DeviceState{}, false
	}
	return ds, true
}

func parseMonitorID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		writeBadRequest(w, fmt.Sprintf("invalid monitor id %q", raw))
		return 0, false
	}
	return id, true
}

func parseControlParam(w http.ResponseWriter, r *http.Request) (display.Control, bool) {
	ctrl, err := display.ParseControl(chi.URLParam(r, "control"))
	if err != nil {
		writeDisplayError(w, err)
		return "", false
	}
	return ctrl, true
}

// writeDisplayError maps coordinator errors onto HTTP responses.
func writeDisplayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, display.ErrUnknownDevice), errors.Is(err, display.ErrUnsupportedControl):
		writeNotFound(w, err.Error())
	case errors.Is(err, display.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, display.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

func newMonitorResponse(ds display.DeviceState) monitorResponse {
	mr := monitorResponse{
		ID:       ds.Device.ID,
		Model:    ds.Device.Model,
		Bus:      ds.Device.Bus,
		Controls: make(map[string]controlResponse, len(ds.Values)),
	}
	for _, ctrl := range display.Controls() {
		mr.Controls[ctrl.String()] = newControlResponse(ds, ctrl)
	}
	for ctrl, table := range ds.Options {
		if mr.Options == nil {
			mr.Options = make(map[string]map[string]string, len(ds.Options))
		}
		mr.Options[ctrl.String()] = hexOptions(table)
	}
	return mr
}

func newControlResponse(ds display.DeviceState, ctrl display.Control) controlResponse {
	v, ok := ds.Values[ctrl]
	if !ok || !v.Known() {
		return controlResponse{State: display.StateUnknown}
	}

	value := v.Value
	at := v.UpdatedAt
	cr := controlResponse{Value: &value, State: v.State, UpdatedAt: &at}
	if label, found := ds.Options[ctrl].Label(v.Value); found {
		cr.Label = label
	}
	return cr
}

func hexOptions(table display.OptionTable) map[string]string {
	out := make(map[string]string, len(table))
	for code, label := range table {
		out[fmt.Sprintf("%02x", code)] = label
	}
	return out
}
