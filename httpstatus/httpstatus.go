// Package httpstatus serves the coordinator's read-only operational
// surface: "what does this cluster look like right now", over HTTP for
// curl-based debugging. It never mutates state; every write still goes
// through the binary command protocol and topology.Machine's lock.
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
	"github.com/basho-labs/riak-mesos-metacoord/leaderctl"
	"github.com/basho-labs/riak-mesos-metacoord/record"
)

// Store is the consensus access healthz probes.
type Store interface {
	DirtyRead(key string) ([]byte, error)
}

// Machine is the subset of topology.Machine the status surface reads.
type Machine interface {
	GetAllNode() (record.Nodes, error)
	GetMSInfo() (record.PartitionsTable, error)
}

// Lifecycle is the subset of leaderctl.Lifecycle the status surface reads.
type Lifecycle interface {
	State() leaderctl.State
	LeaderEndpoint() string
}

// Server exposes the read-only status endpoints.
type Server struct {
	store     Store
	machine   Machine
	lifecycle Lifecycle
}

// New wires a Server around the coordinator's consensus store, topology
// machine and leader lifecycle.
func New(store Store, machine Machine, lifecycle Lifecycle) *Server {
	return &Server{store: store, machine: machine, lifecycle: lifecycle}
}

// Handler returns the routed, logging-wrapped HTTP handler to pass to
// http.Serve.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Methods("GET").Path("/healthz").HandlerFunc(s.healthz)
	router.Methods("GET").Path("/v1/nodes").HandlerFunc(s.nodes)
	router.Methods("GET").Path("/v1/partitions").HandlerFunc(s.partitions)
	router.Methods("GET").Path("/v1/leader").HandlerFunc(s.leader)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{
			"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr,
		}).Info("httpstatus: request")
		router.ServeHTTP(w, r)
	})
}

// healthz reports 200 if this peer can still reach the consensus store, 503
// otherwise.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.DirtyRead(record.KeyPartitionNum); err != nil && !coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) nodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.machine.GetAllNode()
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(nodes)
}

func (s *Server) partitions(w http.ResponseWriter, r *http.Request) {
	table, err := s.machine.GetMSInfo()
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(table)
}

func (s *Server) leader(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"state":  s.lifecycle.State().String(),
		"leader": s.lifecycle.LeaderEndpoint(),
	})
}

func writeErr(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
