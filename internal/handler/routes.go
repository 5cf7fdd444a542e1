package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/traits/internal/middleware"
	"github.com/shiva/traits/internal/service"
)

// Routes registers the user API under /api/v1 and the admin API under
// /admin. Admin routes require adminToken unless it is empty.
func Routes(router *mux.Router, traits service.Traits, admin service.AdminTraits, adminToken string) {
	th := NewTraitsHandler(traits)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/connections", th.SearchConnections).Methods(http.MethodGet)
	api.HandleFunc("/trains/{key}/status", th.TrainStatus).Methods(http.MethodGet)
	api.HandleFunc("/users/{email}/tickets", th.PurchaseHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{email}/tickets/{id}", th.CancelTicket).Methods(http.MethodDelete)
	api.HandleFunc("/tickets", th.BuyTicket).Methods(http.MethodPost)

	ah := NewAdminHandler(admin)
	adm := router.PathPrefix("/admin").Subrouter()
	adm.Use(middleware.AdminToken(adminToken))
	// Users
	adm.HandleFunc("/users", ah.AddUser).Methods(http.MethodPost)
	adm.HandleFunc("/users/{email}", ah.DeleteUser).Methods(http.MethodDelete)
	// Trains
	adm.HandleFunc("/trains", ah.AddTrain).Methods(http.MethodPost)
	adm.HandleFunc("/trains/{key}", ah.UpdateTrain).Methods(http.MethodPatch)
	adm.HandleFunc("/trains/{key}", ah.DeleteTrain).Methods(http.MethodDelete)
	adm.HandleFunc("/trains/{key}/cancel", ah.CancelTrain).Methods(http.MethodPost)
	adm.HandleFunc("/trains/{key}/resume", ah.ResumeTrain).Methods(http.MethodPost)
	adm.HandleFunc("/trains/{key}/inventory/{date}", ah.Inventory).Methods(http.MethodGet)
	// Topology
	adm.HandleFunc("/stations", ah.AddStation).Methods(http.MethodPost)
	adm.HandleFunc("/connections", ah.Connect).Methods(http.MethodPost)
	adm.HandleFunc("/connections/{from}/{to}", ah.IsConnected).Methods(http.MethodGet)
	// Schedules
	adm.HandleFunc("/schedules", ah.AddSchedule).Methods(http.MethodPost)
	adm.HandleFunc("/schedules", ah.ListSchedules).Methods(http.MethodGet)
}
