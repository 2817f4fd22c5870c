package server

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h *Handler, hub *PingHub) {
	router.HandleFunc("/", h.HandleRoot).Methods("GET")
	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")
	router.HandleFunc("/ping", h.HandlePing).Methods("POST")
	router.HandleFunc("/congestion", h.HandleCongestion).Methods("GET")
	router.HandleFunc("/ws/live", h.HandleLive(hub)).Methods("GET")
}
