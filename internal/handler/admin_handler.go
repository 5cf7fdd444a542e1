package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/service"
)

// ─── Request/Response DTOs ──────────────────────────────────

// AddUserBody is the JSON body for POST /admin/users.
type AddUserBody struct {
	Email   string            `json:"email" validate:"required"`
	Details map[string]string `json:"details"`
}

// AddTrainBody is the JSON body for POST /admin/trains.
type AddTrainBody struct {
	Key      model.Key         `json:"key" validate:"required"`
	Capacity int               `json:"capacity"`
	Status   model.TrainStatus `json:"status" validate:"required"`
}

// UpdateTrainBody is the JSON body for PATCH /admin/trains/{key}.
// Omitted fields are left unchanged.
type UpdateTrainBody struct {
	Capacity *int               `json:"capacity"`
	Status   *model.TrainStatus `json:"status"`
}

// AddStationBody is the JSON body for POST /admin/stations.
type AddStationBody struct {
	Key      model.Key         `json:"key" validate:"required"`
	Details  map[string]string `json:"details"`
	Location *model.Location   `json:"location"`
}

// ConnectBody is the JSON body for POST /admin/connections.
type ConnectBody struct {
	From          model.Key `json:"from" validate:"required"`
	To            model.Key `json:"to" validate:"required"`
	TravelMinutes int       `json:"travel_minutes"`
}

// ConnectionResponse is returned by GET /admin/connections/{from}/{to}.
type ConnectionResponse struct {
	From          model.Key `json:"from"`
	To            model.Key `json:"to"`
	Connected     bool      `json:"connected"`
	TravelMinutes int       `json:"travel_minutes,omitempty"`
}

// AddScheduleBody is the JSON body for POST /admin/schedules.
type AddScheduleBody struct {
	Train       model.Key        `json:"train" validate:"required"`
	StartHour   int              `json:"start_hour"`
	StartMinute int              `json:"start_minute"`
	Stops       []model.StopSpec `json:"stops" validate:"required,dive"`
	ValidFrom   model.Date       `json:"valid_from" validate:"required"`
	ValidUntil  model.Date       `json:"valid_until" validate:"required"`
}

// ─── AdminHandler ───────────────────────────────────────────

// AdminHandler serves the administrative routes.
type AdminHandler struct {
	admin service.AdminTraits
}

// NewAdminHandler creates a new handler wired to the engine.
func NewAdminHandler(admin service.AdminTraits) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// AddUser handles POST /admin/users.
func (h *AdminHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var body AddUserBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.admin.AddUser(r.Context(), body.Email, body.Details); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"email": service.NormalizeEmail(body.Email)})
}

// DeleteUser handles DELETE /admin/users/{email}. Unknown users are a no-op.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteUser(r.Context(), mux.Vars(r)["email"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTrain handles POST /admin/trains.
func (h *AdminHandler) AddTrain(w http.ResponseWriter, r *http.Request) {
	var body AddTrainBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.admin.AddTrain(r.Context(), body.Key, body.Capacity, body.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

// UpdateTrain handles PATCH /admin/trains/{key}.
func (h *AdminHandler) UpdateTrain(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	var body UpdateTrainBody
	if !decodeBody(w, r, &body) {
		return
	}
	err := h.admin.UpdateTrainDetails(r.Context(), key, model.TrainUpdate{
		Capacity: body.Capacity,
		Status:   body.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTrain handles DELETE /admin/trains/{key}. Unknown trains are a no-op.
func (h *AdminHandler) DeleteTrain(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.admin.DeleteTrain)
}

// CancelTrain handles POST /admin/trains/{key}/cancel.
func (h *AdminHandler) CancelTrain(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.admin.CancelTrain)
}

// ResumeTrain handles POST /admin/trains/{key}/resume.
func (h *AdminHandler) ResumeTrain(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.admin.ResumeTrain)
}

func (h *AdminHandler) keyAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, model.Key) error) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	if err := fn(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Inventory handles GET /admin/trains/{key}/inventory/{date}.
func (h *AdminHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	date, err := model.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		badRequest(w, "invalid date: %v", err)
		return
	}
	inv, err := h.admin.GetInventory(r.Context(), key, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// AddStation handles POST /admin/stations.
func (h *AdminHandler) AddStation(w http.ResponseWriter, r *http.Request) {
	var body AddStationBody
	if !decodeBody(w, r, &body) {
		return
	}
	st := model.Station{Key: body.Key, Details: body.Details, Location: body.Location}
	if err := h.admin.AddTrainStation(r.Context(), st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// Connect handles POST /admin/connections.
func (h *AdminHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var body ConnectBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.admin.ConnectTrainStations(r.Context(), body.From, body.To, body.TravelMinutes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

// IsConnected handles GET /admin/connections/{from}/{to}.
func (h *AdminHandler) IsConnected(w http.ResponseWriter, r *http.Request) {
	from, ok := pathKey(w, r, "from")
	if !ok {
		return
	}
	to, ok := pathKey(w, r, "to")
	if !ok {
		return
	}
	minutes, connected, err := h.admin.IsConnected(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectionResponse{
		From: from, To: to, Connected: connected, TravelMinutes: minutes,
	})
}

// AddSchedule handles POST /admin/schedules and returns the stored schedule
// with its computed stop offsets.
func (h *AdminHandler) AddSchedule(w http.ResponseWriter, r *http.Request) {
	var body AddScheduleBody
	if !decodeBody(w, r, &body) {
		return
	}
	sch, err := h.admin.AddSchedule(r.Context(), service.ScheduleRequest{
		TrainKey:    body.Train,
		StartHour:   body.StartHour,
		StartMinute: body.StartMinute,
		Stops:       body.Stops,
		ValidFrom:   body.ValidFrom,
		ValidUntil:  body.ValidUntil,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

// ListSchedules handles GET /admin/schedules.
func (h *AdminHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.admin.GetAllSchedules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if schedules == nil {
		schedules = []model.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}
