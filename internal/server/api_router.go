package server

import (
	"encoding/json"
	"net/http"

	gmux "github.com/gorilla/mux"

	"github.com/straumur/zfsadm/internal/credentials"
)

// APIRouter is the loopback-only administrative surface: credential rotation,
// session stats and Prometheus metrics. It must never be bound to the agent
// port; it carries none of the transport security of the main protocol.
type APIRouter struct {
	*gmux.Router
	sta *State
}

func APIRouterOf(sta *State) *APIRouter {
	ret := &APIRouter{
		sta: sta,
	}
	ret.registerMux()
	return ret
}

// ServeAdmin binds the admin API on addr, which should be a loopback
// address.
func ServeAdmin(addr string, sta *State) error {
	return http.ListenAndServe(addr, APIRouterOf(sta))
}

func (ar *APIRouter) registerMux() {
	ar.Router = gmux.NewRouter()
	ar.HandleFunc("/admin/sessions", ar.sessionStatsHlr).Methods("GET")
	ar.HandleFunc("/admin/credentials", ar.setCredentialsHlr).Methods("POST")
	ar.Handle("/metrics", ar.sta.metrics.Handler()).Methods("GET")
}

func (ar *APIRouter) sessionStatsHlr(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(ar.sta.metrics.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (ar *APIRouter) setCredentialsHlr(w http.ResponseWriter, r *http.Request) {
	setter, ok := ar.sta.Credentials.(credentials.Setter)
	if !ok {
		http.Error(w, "credential store is read-only", http.StatusNotImplemented)
		return
	}

	var req struct {
		Password   string `json:"password"`
		Iterations int    `json:"iterations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "password cannot be empty", http.StatusBadRequest)
		return
	}
	if err := setter.SetPassword(req.Password, req.Iterations); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
