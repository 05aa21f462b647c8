// Package worker implements the single-consumer update worker, the sole
// mutator of the PartitionsTable outside of initial distribution. It is
// built on common.GenServer, using its Cast channel for fire-and-forget
// ADD/REMOVE tasks from the liveness sweeper and the JOIN handler, so
// every reconfiguration on the failover path flows through one queue
// instead of ad-hoc locking.
package worker

import (
	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/common"
	"github.com/basho-labs/riak-mesos-metacoord/record"
)

// Op is the kind of reconfiguration a Task requests.
type Op int

const (
	OpAdd Op = iota
	OpRemove
)

// Task is one (endpoint, op) unit of work drained from the queue.
type Task struct {
	IP   string
	Port int
	Op   Op
}

// Machine is the subset of topology.Machine the worker needs.
type Machine interface {
	AddNode(ip string, port int) error
	OffNode(ip string, port int) error
}

// Worker is the single-consumer Update worker. Producers call Enqueue;
// exactly one goroutine (started by Run) drains it and invokes the
// topology state machine.
type Worker struct {
	gen     common.GenServer
	machine Machine
}

// New wraps machine. qlen bounds the cast queue only in the sense that a
// full channel will block the next Enqueue; producers call Enqueue from
// their own goroutine, never from a path that can't tolerate that
// backpressure.
func New(machine Machine, qlen int) *Worker {
	return &Worker{
		gen:     common.NewGenServerWithQlen(qlen),
		machine: machine,
	}
}

// Enqueue schedules a task for the single consumer goroutine. Safe to call
// from any goroutine (sweeper, dispatcher).
func (w *Worker) Enqueue(t Task) {
	w.gen.Cast(t)
}

// Backlog reports the number of unprocessed tasks, for status reporting.
func (w *Worker) Backlog() int {
	return w.gen.Len()
}

// Run drains the cast queue until stop is closed. This goroutine is the
// only invoker of AddNode/OffNode once the cluster is initialized, which
// serializes reconfigurations and keeps epoch advances from racing.
//
// Tasks still queued when stop closes are dropped: the next leader's
// liveness sweep recomputes and re-enqueues any reconfiguration that
// still matters.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case cast := <-w.gen.Casts:
			task, ok := cast.Request.(Task)
			if !ok {
				log.Errorf("worker: unexpected cast payload %T", cast.Request)
				continue
			}
			w.apply(task)
		}
	}
}

func (w *Worker) apply(t Task) {
	endpoint := (record.Node{IP: t.IP, Port: t.Port}).Endpoint()
	switch t.Op {
	case OpAdd:
		if err := w.machine.AddNode(t.IP, t.Port); err != nil {
			log.WithError(err).WithField("endpoint", endpoint).Error("worker: AddNode failed")
		}
	case OpRemove:
		if err := w.machine.OffNode(t.IP, t.Port); err != nil {
			log.WithError(err).WithField("endpoint", endpoint).Error("worker: OffNode failed")
		}
	default:
		log.Errorf("worker: unknown op %d for %s", t.Op, endpoint)
	}
}
