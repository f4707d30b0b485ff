package handlers

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
)

// ControlHandler serves status, pump, mode and tower routes.
type ControlHandler struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewControlHandler creates a new control handler.
func NewControlHandler(ctrl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctrl: ctrl, logger: logger}
}

// TowerStatus is one tower in the status response.
type TowerStatus struct {
	ID     uint8         `json:"id"`
	Level  uint8         `json:"level"`
	Pump   bool          `json:"pump"`
	Online bool          `json:"online"`
	Alarm  bool          `json:"alarm"`
	Alarms models.Alarms `json:"alarms"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Mode         int           `json:"mode"`
	WiFi         bool          `json:"wifi"`
	WellWater    bool          `json:"well_water"`
	Degraded     bool          `json:"degraded"`
	WireVersion  int           `json:"wire_version"`
	Towers       []TowerStatus `json:"towers"`
	TotalTowers  int           `json:"total_towers"`
	OnlineTowers int           `json:"online_towers"`
	AlarmCount   int           `json:"alarm_count"`
}

// NewStatusResponse renders a controller snapshot.
func NewStatusResponse(st models.SystemStatus) StatusResponse {
	resp := StatusResponse{
		Mode:         int(st.Mode),
		WiFi:         st.LinkUp,
		WellWater:    st.WellWaterOK,
		Degraded:     st.Degraded,
		WireVersion:  protocol.WireVersion,
		Towers:       make([]TowerStatus, 0, len(st.Towers)),
		TotalTowers:  st.TotalTowers,
		OnlineTowers: st.OnlineTowers,
		AlarmCount:   st.AlarmCount,
	}
	for _, t := range st.Towers {
		resp.Towers = append(resp.Towers, TowerStatus{
			ID:     t.ID,
			Level:  t.Level,
			Pump:   t.PumpOn,
			Online: t.Online,
			Alarm:  t.Alarms.Any(),
			Alarms: t.Alarms,
		})
	}
	return resp
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, NewStatusResponse(st))
}

type pumpRequest struct {
	Tower  json.Number `json:"tower"`
	Action string      `json:"action"`
}

// SetPump handles POST /api/pump. Parameters come from a JSON body or from
// the form and query string.
func (h *ControlHandler) SetPump(w http.ResponseWriter, r *http.Request) {
	var req pumpRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, r, "invalid JSON body")
			return
		}
	} else {
		req.Tower = json.Number(r.FormValue("tower"))
		req.Action = r.FormValue("action")
	}

	id, err := parseTowerID(req.Tower.String())
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	var on bool
	switch strings.ToLower(req.Action) {
	case "on":
		on = true
	case "off":
	default:
		WriteInvalidParam(w, r, "action", req.Action, "action must be on or off")
		return
	}

	if err := h.ctrl.SetPump(r.Context(), id, on); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tower": id, "pump": on})
}

type modeRequest struct {
	Mode *json.Number `json:"mode"`
}

// SetMode handles POST /api/mode with mode 0 (auto) or 1 (manual).
func (h *ControlHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var raw string
	if isJSON(r) {
		var req modeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, r, "invalid JSON body")
			return
		}
		if req.Mode != nil {
			raw = req.Mode.String()
		}
	} else {
		raw = r.FormValue("mode")
	}

	n, err := strconv.Atoi(raw)
	if err != nil || !models.Mode(n).IsValid() {
		WriteInvalidParam(w, r, "mode", raw, "mode must be 0 (auto) or 1 (manual)")
		return
	}

	if err := h.ctrl.SetMode(r.Context(), models.Mode(n)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"mode": n})
}

// ListTowers handles GET /api/towers.
func (h *ControlHandler) ListTowers(w http.ResponseWriter, r *http.Request) {
	towers, err := h.ctrl.Towers(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if towers == nil {
		towers = []models.Tower{}
	}
	WriteJSON(w, http.StatusOK, towers)
}

// GetTower handles GET /api/towers/{id}.
func (h *ControlHandler) GetTower(w http.ResponseWriter, r *http.Request) {
	id, err := parseTowerID(chi.URLParam(r, "id"))
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	t, err := h.ctrl.Tower(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// QueryTower handles POST /api/towers/{id}/query.
func (h *ControlHandler) QueryTower(w http.ResponseWriter, r *http.Request) {
	id, err := parseTowerID(chi.URLParam(r, "id"))
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if err := h.ctrl.QueryTower(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"tower": id, "status": "query sent"})
}

// HistoryPoint is one entry of a history response.
type HistoryPoint struct {
	TowerID    uint8 `json:"towerId"`
	Timestamp  int64 `json:"timestamp"`
	WaterLevel uint8 `json:"waterLevel"`
	PumpStatus bool  `json:"pumpStatus"`
}

func historyPoints(id uint8, samples []models.HistorySample) []HistoryPoint {
	out := make([]HistoryPoint, 0, len(samples))
	for _, s := range samples {
		out = append(out, HistoryPoint{
			TowerID:    id,
			Timestamp:  s.Timestamp.UnixMilli(),
			WaterLevel: s.Level,
			PumpStatus: s.PumpOn,
		})
	}
	return out
}

// History handles GET /api/history?towerId=N[&hours=H]. Without hours the
// whole ring is returned.
func (h *ControlHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := parseTowerID(q.Get("towerId"))
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	var since time.Time
	if s := q.Get("hours"); s != "" {
		hours, err := strconv.Atoi(s)
		if err != nil || hours <= 0 {
			WriteInvalidParam(w, r, "hours", s, "hours must be a positive integer")
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	samples, err := h.ctrl.History(r.Context(), id, since)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, historyPoints(id, samples))
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
