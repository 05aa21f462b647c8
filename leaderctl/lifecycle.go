// Package leaderctl owns the coordinator's leader lifecycle: campaigning
// in the consensus election, transitioning between Unknown, Leader and
// Follower, rebuilding in-memory state on promotion, and maintaining a
// redirect channel to whichever peer is currently leader so a follower
// can forward writes instead of rejecting them.
package leaderctl

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/consensus"
	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
	"github.com/basho-labs/riak-mesos-metacoord/liveness"
	"github.com/basho-labs/riak-mesos-metacoord/topology"
)

// State is this peer's position in the leader lifecycle state machine.
type State int

const (
	StateUnknown State = iota
	StateLeader
	StateFollower
)

func (s State) String() string {
	switch s {
	case StateLeader:
		return "leader"
	case StateFollower:
		return "follower"
	default:
		return "unknown"
	}
}

const (
	dialTimeout = 3 * time.Second
	// IOTimeout bounds a single redirect request/response round trip;
	// dispatcher sets it as a deadline on the channel before each use.
	IOTimeout = 5 * time.Second
)

// Lifecycle tracks this peer's leader/follower state and, while a
// follower, a live connection to the current leader's command port.
type Lifecycle struct {
	store     *consensus.Store
	candidacy *consensus.Candidacy
	ports     Ports
	self      string // consensus endpoint advertised in the election
	selfCmd   string // this peer's own command endpoint

	machine  *topology.Machine
	liveness *liveness.Tracker

	mu             sync.Mutex
	state          State
	leaderEndpoint string // current leader's command endpoint
	channel        net.Conn
}

// New creates a Lifecycle for the peer at host/basePort around the given
// store, topology machine and liveness tracker. The candidacy advertises
// the peer's consensus endpoint; command endpoints are derived from it
// via ports. Callers must call Campaign before the first Poll.
func New(store *consensus.Store, ports Ports, host string, basePort int, machine *topology.Machine, tracker *liveness.Tracker) *Lifecycle {
	return &Lifecycle{
		store:    store,
		ports:    ports,
		self:     ports.LocalConsensusEndpoint(host, basePort),
		selfCmd:  ports.LocalCommandEndpoint(host, basePort),
		machine:  machine,
		liveness: tracker,
	}
}

// Campaign registers this peer's candidacy. Safe to call again after a
// ZooKeeper session loss forces re-registration.
func (l *Lifecycle) Campaign() error {
	c, err := l.store.Campaign(l.self)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.candidacy = c
	l.mu.Unlock()
	return nil
}

// State reports the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LeaderEndpoint reports the last-observed leader's command endpoint (""
// if unknown).
func (l *Lifecycle) LeaderEndpoint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaderEndpoint
}

// Poll re-reads the election namespace and drives the state transitions:
//
//	Unknown  -> Leader    when this candidacy holds the lowest sequence
//	Unknown  -> Follower  when some other candidate does
//	Leader   -> Follower  when another candidate takes over (session loss);
//	                      liveness tracking is cleared, it belongs to leaders only
//	Follower -> Leader    when this candidacy becomes lowest
//	Follower -> Follower  when the leader endpoint changes (reconnect redirect channel)
func (l *Lifecycle) Poll() error {
	l.mu.Lock()
	candidacy := l.candidacy
	l.mu.Unlock()
	if candidacy == nil {
		return nil
	}

	leaderEndpoint, err := candidacy.Leader()
	if err != nil {
		return err
	}
	return l.observe(leaderEndpoint)
}

// observe applies one election observation (the leader's advertised
// consensus endpoint) to the state machine.
func (l *Lifecycle) observe(leaderConsensus string) error {
	isLeader := leaderConsensus == l.self

	l.mu.Lock()
	prevState := l.state
	prevLeader := l.leaderEndpoint
	l.mu.Unlock()

	switch {
	case isLeader && prevState != StateLeader:
		if err := l.becomeLeader(); err != nil {
			return err
		}
	case !isLeader && leaderConsensus != "":
		leaderCmd, err := l.ports.CommandEndpoint(leaderConsensus)
		if err != nil {
			return coordinatorerr.CorruptionWrap("bad leader endpoint "+leaderConsensus, err)
		}
		if prevState == StateFollower && leaderCmd == prevLeader {
			return nil
		}
		if prevState == StateLeader {
			l.liveness.Clear()
		}
		l.becomeFollower(leaderCmd)
	case !isLeader && leaderConsensus == "":
		if prevState == StateLeader {
			l.liveness.Clear()
		}
		l.mu.Lock()
		l.state = StateUnknown
		l.leaderEndpoint = ""
		l.closeChannelLocked()
		l.mu.Unlock()
	}
	return nil
}

// becomeLeader runs the promotion sequence: reload the Nodes table,
// rebuild liveness tracking from the UP set (a freshly promoted leader
// has no sweep history of its own), and reload the cached epoch from the
// PartitionsTable so the next write advances from the true current
// version rather than 0.
func (l *Lifecycle) becomeLeader() error {
	nodes, err := l.machine.GetAllNode()
	if err != nil {
		return err
	}
	l.liveness.Restore(nodes.UpEndpoints())

	table, err := l.machine.GetMSInfo()
	if err != nil {
		return err
	}
	l.machine.SetVersion(table.Version)

	l.mu.Lock()
	l.state = StateLeader
	l.leaderEndpoint = l.selfCmd
	l.closeChannelLocked()
	l.mu.Unlock()

	log.WithField("self", l.selfCmd).Info("leaderctl: promoted to leader")
	return nil
}

func (l *Lifecycle) becomeFollower(leaderEndpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateFollower
	if leaderEndpoint != l.leaderEndpoint {
		l.closeChannelLocked()
	}
	l.leaderEndpoint = leaderEndpoint
	log.WithField("leader", leaderEndpoint).Info("leaderctl: following")
}

// closeChannelLocked closes and clears any live redirect connection. Caller
// must hold mu.
func (l *Lifecycle) closeChannelLocked() {
	if l.channel != nil {
		l.channel.Close()
		l.channel = nil
	}
}

// RedirectChannel returns a live connection to the current leader's
// command port, dialing (or redialing, if the previous connection died)
// as needed. Returns coordinatorerr-wrapped errors from net.Dial through
// the caller, who is expected to treat them like any other Unavailable
// condition.
func (l *Lifecycle) RedirectChannel() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateFollower || l.leaderEndpoint == "" {
		return nil, coordinatorerr.NotLeader("no known leader to redirect to")
	}
	if l.channel != nil {
		return l.channel, nil
	}
	conn, err := net.DialTimeout("tcp", l.leaderEndpoint, dialTimeout)
	if err != nil {
		return nil, coordinatorerr.UnavailableWrap("dial leader "+l.leaderEndpoint, err)
	}
	l.channel = conn
	return conn, nil
}

// DropChannel discards the current redirect connection, e.g. after an I/O
// error the caller observed on it, so the next RedirectChannel call
// redials.
func (l *Lifecycle) DropChannel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeChannelLocked()
}

// Resign releases this peer's candidacy and closes any redirect
// connection, for use during graceful shutdown.
func (l *Lifecycle) Resign() error {
	l.mu.Lock()
	candidacy := l.candidacy
	l.closeChannelLocked()
	l.state = StateUnknown
	l.mu.Unlock()
	if candidacy == nil {
		return nil
	}
	return candidacy.Resign()
}
