// Package dispatcher implements the command dispatcher: it routes the
// four wire requests (JOIN, PING, PULL, INIT) to topology operations,
// refreshes liveness on the hot path, and redirects writes to the current
// leader when this peer is a follower.
package dispatcher

import (
	"net"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
	"github.com/basho-labs/riak-mesos-metacoord/leaderctl"
	"github.com/basho-labs/riak-mesos-metacoord/liveness"
	"github.com/basho-labs/riak-mesos-metacoord/record"
	"github.com/basho-labs/riak-mesos-metacoord/wire"
	"github.com/basho-labs/riak-mesos-metacoord/worker"
)

// Machine is the subset of topology.Machine the dispatcher calls directly
// (PULL and INIT; JOIN/PING's mutations go through the update worker).
type Machine interface {
	GetMSInfo() (record.PartitionsTable, error)
	Version() int64
	Distribute(num int) error
}

// Lifecycle is the subset of leaderctl.Lifecycle the dispatcher consults
// to decide between serving a write locally and redirecting it.
type Lifecycle interface {
	State() leaderctl.State
	LeaderEndpoint() string
	RedirectChannel() (net.Conn, error)
	DropChannel()
}

// Dispatcher routes decoded wire requests to their handlers.
type Dispatcher struct {
	machine   Machine
	liveness  *liveness.Tracker
	worker    *worker.Worker
	lifecycle Lifecycle
}

// New wires a Dispatcher around the coordinator's core components.
func New(machine Machine, tracker *liveness.Tracker, w *worker.Worker, lc Lifecycle) *Dispatcher {
	return &Dispatcher{machine: machine, liveness: tracker, worker: w, lifecycle: lc}
}

// Dispatch handles one decoded request and returns the response to send
// back over the wire. Every request is stamped with a correlation ID so
// an operator can trace it through the log stream.
func (d *Dispatcher) Dispatch(req wire.Request) wire.Response {
	entry := log.WithFields(log.Fields{
		"correlation_id": uuid.New().String(),
		"cmd":            req.Cmd,
	})

	switch req.Cmd {
	case wire.CmdPull:
		return d.handlePull(entry)
	case wire.CmdJoin:
		return d.maybeRedirect(req, entry, d.handleJoin)
	case wire.CmdPing:
		return d.maybeRedirect(req, entry, d.handlePing)
	case wire.CmdInit:
		return d.maybeRedirect(req, entry, d.handleInit)
	default:
		entry.Warnf("dispatcher: unrecognized command %d", req.Cmd)
		return wire.Response{Code: wire.CodeInvalid}
	}
}

// maybeRedirect serves leader-only commands locally when this peer is
// leader, and forwards them verbatim to the current leader otherwise.
// PULL never goes through here: it is always served locally from a dirty
// read.
func (d *Dispatcher) maybeRedirect(req wire.Request, entry *log.Entry, handle func(wire.Request, *log.Entry) wire.Response) wire.Response {
	if d.lifecycle.State() == leaderctl.StateLeader {
		return handle(req, entry)
	}
	return d.redirect(req, entry)
}

func (d *Dispatcher) redirect(req wire.Request, entry *log.Entry) wire.Response {
	conn, err := d.lifecycle.RedirectChannel()
	if err != nil {
		entry.WithError(err).Warn("dispatcher: no leader to redirect to")
		return wire.Response{Code: wire.CodeNotLeader, LeaderHint: d.lifecycle.LeaderEndpoint()}
	}
	conn.SetDeadline(time.Now().Add(leaderctl.IOTimeout))

	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		d.lifecycle.DropChannel()
		entry.WithError(err).Warn("dispatcher: redirect write failed")
		return wire.Response{Code: wire.CodeNotLeader}
	}
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		d.lifecycle.DropChannel()
		entry.WithError(err).Warn("dispatcher: redirect read failed")
		return wire.Response{Code: wire.CodeNotLeader}
	}
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		entry.WithError(err).Error("dispatcher: malformed redirect response")
		return wire.Response{Code: wire.CodeInternal}
	}
	return resp
}

// handlePull serves a dirty read locally, on leader and follower alike.
func (d *Dispatcher) handlePull(entry *log.Entry) wire.Response {
	table, err := d.machine.GetMSInfo()
	if err != nil {
		entry.WithError(err).Error("dispatcher: PULL failed")
		return wire.Response{Code: wire.CodeInternal}
	}
	return wire.Response{Code: wire.CodeOK, Table: table}
}

// handleJoin enqueues an ADD task to the update worker and seeds liveness
// immediately, so a PING arriving before the worker drains the task still
// finds a live entry.
func (d *Dispatcher) handleJoin(req wire.Request, entry *log.Entry) wire.Response {
	endpoint := req.Node.Endpoint()
	d.liveness.Add(endpoint)
	d.worker.Enqueue(worker.Task{IP: req.Node.IP, Port: req.Node.Port, Op: worker.OpAdd})
	entry.WithField("endpoint", endpoint).Info("dispatcher: JOIN")
	return wire.Response{Code: wire.CodeOK, Epoch: d.machine.Version()}
}

// handlePing refreshes liveness and reports the current epoch so the
// caller can detect staleness and issue a PULL. An endpoint with no
// existing liveness entry (never joined, or swept for missing heartbeats)
// gets a REJOIN hint instead of being silently re-added; registration is
// JOIN's job.
func (d *Dispatcher) handlePing(req wire.Request, entry *log.Entry) wire.Response {
	endpoint := req.Node.Endpoint()
	epoch := d.machine.Version()
	if !d.liveness.Touch(endpoint) {
		entry.WithField("endpoint", endpoint).Info("dispatcher: PING from unknown endpoint")
		return wire.Response{Code: wire.CodeOK, Epoch: epoch, Hint: wire.HintRejoin}
	}
	hint := wire.HintOK
	if req.Epoch < epoch {
		hint = wire.HintStaleEpoch
	}
	return wire.Response{Code: wire.CodeOK, Epoch: epoch, Hint: hint}
}

// handleInit runs Distribute. It is idempotent-by-rejection: a second
// INIT on an already-initialized cluster surfaces as CodeInvalid.
func (d *Dispatcher) handleInit(req wire.Request, entry *log.Entry) wire.Response {
	if err := d.machine.Distribute(int(req.Num)); err != nil {
		entry.WithError(err).Warn("dispatcher: INIT failed")
		if coordinatorerr.Is(err, coordinatorerr.KindCorruption) {
			return wire.Response{Code: wire.CodeInvalid}
		}
		return wire.Response{Code: wire.CodeInternal}
	}
	entry.WithField("num", req.Num).Info("dispatcher: INIT")
	return wire.Response{Code: wire.CodeOK}
}
