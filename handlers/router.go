package handlers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every hub endpoint. ws may be nil when the router only
// serves the REST surface.
func NewRouter(ph *ProcessedHandler, ws *WSHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", HealthCheck).Methods("GET")
	r.Path("/metrics").Handler(promhttp.Handler())

	r.HandleFunc("/processed_agent_data/", ph.Create).Methods("POST")
	r.HandleFunc("/processed_agent_data/", ph.List).Methods("GET")
	r.HandleFunc("/processed_agent_data/{id}", ph.Get).Methods("GET")
	r.HandleFunc("/processed_agent_data/{id}", ph.Update).Methods("PUT")
	r.HandleFunc("/processed_agent_data/{id}", ph.Delete).Methods("DELETE")
	r.HandleFunc("/users/{user_id}/latest", ph.Latest).Methods("GET")

	if ws != nil {
		r.HandleFunc("/ws/agent", ws.Agent).Methods("GET")
		r.HandleFunc("/ws/{user_id:[0-9]+}", ws.Subscribe).Methods("GET")
	}
	return r
}
