// Package handlers wires the pairing API and the websocket endpoint into
// one HTTP router.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/walletabi/relaygo/internal/pairing"
	"github.com/walletabi/relaygo/internal/relay"
	"github.com/walletabi/relaygo/internal/store"
)

// maxBodyBytes bounds a pairing-create request body.
const maxBodyBytes = 16 * 1024

// Router wraps the mux router with the services behind it.
type Router struct {
	*mux.Router
	manager *pairing.Manager
	relay   *relay.Server
}

// NewRouter creates the HTTP router with all routes.
func NewRouter(manager *pairing.Manager, relayServer *relay.Server) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		manager: manager,
		relay:   relayServer,
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/healthz", r.healthCheck).Methods("GET")
	v1.HandleFunc("/pairings", r.createPairing).Methods("POST")
	v1.HandleFunc("/pairings/{id}", r.getPairing).Methods("GET")
	v1.HandleFunc("/pairings/{id}", r.deletePairing).Methods("DELETE")
	v1.HandleFunc("/ws", r.relay.ServeWS)

	return r
}

// healthCheck returns the health status of the relay.
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// createPairing opens a new pairing and returns its tokens.
func (r *Router) createPairing(w http.ResponseWriter, req *http.Request) {
	var in pairing.CreateInput
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	result, err := r.manager.Create(in)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pairing", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// getPairing returns the status view of one pairing.
func (r *Router) getPairing(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	view, err := r.manager.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "pairing not found")
		return
	}
	if err != nil {
		log.Printf("❌ Pairing lookup failed for %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal", "pairing lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// deletePairing tears a pairing down: live sockets are closed first,
// then every row scoped to the pairing is removed. Unknown ids still
// return 204 so retries are idempotent.
func (r *Router) deletePairing(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	r.relay.ClosePairing(id)

	if err := r.manager.Delete(id); err != nil {
		log.Printf("❌ Pairing delete failed for %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal", "pairing delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a structured error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
