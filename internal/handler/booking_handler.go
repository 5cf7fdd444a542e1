package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/service"
)

// DefaultSearchLimit applies when a connection search has no limit parameter.
const DefaultSearchLimit = 10

// ─── Request/Response DTOs ──────────────────────────────────

// BuyTicketBody is the JSON body for POST /api/v1/tickets.
type BuyTicketBody struct {
	Email        string           `json:"email" validate:"required"`
	Itinerary    *model.Itinerary `json:"itinerary" validate:"required"`
	ReserveSeats bool             `json:"reserve_seats"`
}

// TrainStatusResponse is returned by GET /api/v1/trains/{key}/status.
type TrainStatusResponse struct {
	Train  model.Key          `json:"train"`
	Status *model.TrainStatus `json:"status"`
}

// ─── TraitsHandler ──────────────────────────────────────────

// TraitsHandler serves the user-facing routes.
type TraitsHandler struct {
	traits service.Traits
}

// NewTraitsHandler creates a new handler wired to the engine.
func NewTraitsHandler(traits service.Traits) *TraitsHandler {
	return &TraitsHandler{traits: traits}
}

// SearchConnections handles GET /api/v1/connections
//
//	?from=1&to=s:2&year=2024&month=6&day=15&hour=8&minute=0
//	&departure=true&sort=ott&asc=true&limit=10
//
// Keys are parsed like path keys: bare integers are integer keys, "s:12"
// forces a string key. sort is one of ott, nc, wt, ep.
func (h *TraitsHandler) SearchConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := model.ParseKey(q.Get("from"))
	if err != nil {
		badRequest(w, "invalid from: %v", err)
		return
	}
	to, err := model.ParseKey(q.Get("to"))
	if err != nil {
		badRequest(w, "invalid to: %v", err)
		return
	}

	query := service.SearchQuery{
		Origin:      from,
		Destination: to,
		SortBy:      model.SortOverallTravelTime,
		Limit:       DefaultSearchLimit,
	}
	var ok bool
	for _, f := range []struct {
		name string
		dst  **int
	}{
		{"year", &query.Year}, {"month", &query.Month}, {"day", &query.Day},
		{"hour", &query.Hour}, {"minute", &query.Minute},
	} {
		if *f.dst, ok = queryInt(w, r, f.name); !ok {
			return
		}
	}
	if query.IsDeparture, ok = queryBool(w, r, "departure", true); !ok {
		return
	}
	if query.Ascending, ok = queryBool(w, r, "asc", true); !ok {
		return
	}
	if s := q.Get("sort"); s != "" {
		query.SortBy = model.SortCriterion(s)
	}
	if q.Get("limit") != "" {
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		query.Limit = *limit
	}

	its, err := h.traits.SearchConnections(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, its)
}

// TrainStatus handles GET /api/v1/trains/{key}/status.
// Unknown trains answer 200 with a null status.
func (h *TraitsHandler) TrainStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	status, err := h.traits.GetTrainCurrentStatus(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TrainStatusResponse{Train: key, Status: status})
}

// PurchaseHistory handles GET /api/v1/users/{email}/tickets.
func (h *TraitsHandler) PurchaseHistory(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.traits.GetPurchaseHistory(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// BuyTicket handles POST /api/v1/tickets
//
// Response codes:
//
//	201  Ticket issued; each leg carries its reservation outcome
//	400  Malformed body or itinerary
//	404  Unknown user or schedule
//	409  Purchase timed out waiting for a seat lock
//	500  Unexpected error
func (h *TraitsHandler) BuyTicket(w http.ResponseWriter, r *http.Request) {
	var body BuyTicketBody
	if !decodeBody(w, r, &body) {
		return
	}
	ticket, err := h.traits.BuyTicket(r.Context(), body.Email, body.Itinerary, body.ReserveSeats)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// CancelTicket handles DELETE /api/v1/users/{email}/tickets/{id}.
func (h *TraitsHandler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		badRequest(w, "invalid ticket id: %v", err)
		return
	}
	if err := h.traits.CancelTicket(r.Context(), vars["email"], id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
