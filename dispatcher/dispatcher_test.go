package dispatcher

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
	"github.com/basho-labs/riak-mesos-metacoord/leaderctl"
	"github.com/basho-labs/riak-mesos-metacoord/liveness"
	"github.com/basho-labs/riak-mesos-metacoord/record"
	"github.com/basho-labs/riak-mesos-metacoord/wire"
	"github.com/basho-labs/riak-mesos-metacoord/worker"
)

type fakeMachine struct {
	table         record.PartitionsTable
	version       int64
	distributeErr error
	distributed   []int
}

func (m *fakeMachine) GetMSInfo() (record.PartitionsTable, error) { return m.table, nil }
func (m *fakeMachine) Version() int64                             { return m.version }
func (m *fakeMachine) Distribute(num int) error {
	if m.distributeErr != nil {
		return m.distributeErr
	}
	m.distributed = append(m.distributed, num)
	return nil
}

type fakeLifecycle struct {
	state   leaderctl.State
	leader  string
	conn    net.Conn
	dialErr error
	dropped bool
}

func (l *fakeLifecycle) State() leaderctl.State { return l.state }
func (l *fakeLifecycle) LeaderEndpoint() string { return l.leader }
func (l *fakeLifecycle) RedirectChannel() (net.Conn, error) {
	if l.dialErr != nil {
		return nil, l.dialErr
	}
	return l.conn, nil
}
func (l *fakeLifecycle) DropChannel() { l.dropped = true }

func newLeaderDispatcher(m *fakeMachine) (*Dispatcher, *liveness.Tracker) {
	tracker := liveness.NewTracker()
	w := worker.New(noopTopology{}, 16)
	d := New(m, tracker, w, &fakeLifecycle{state: leaderctl.StateLeader})
	return d, tracker
}

type noopTopology struct{}

func (noopTopology) AddNode(ip string, port int) error { return nil }
func (noopTopology) OffNode(ip string, port int) error { return nil }

func TestPullServesTableLocally(t *testing.T) {
	assert := assert.New(t)
	table := record.PartitionsTable{
		Version: 3,
		Info: []record.Partition{{
			ID:     0,
			Master: record.Node{IP: "10.0.0.1", Port: 5000},
			Slaves: []record.Node{{IP: "10.0.0.2", Port: 5000}},
		}},
	}
	d, _ := newLeaderDispatcher(&fakeMachine{table: table, version: 3})

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdPull})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(table, resp.Table)
}

func TestPullServedEvenAsFollower(t *testing.T) {
	assert := assert.New(t)
	table := record.PartitionsTable{Version: 9}
	tracker := liveness.NewTracker()
	w := worker.New(noopTopology{}, 16)
	d := New(&fakeMachine{table: table, version: 9}, tracker, w,
		&fakeLifecycle{state: leaderctl.StateFollower, leader: "10.0.0.9:9200"})

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdPull})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(int64(9), resp.Table.Version)
}

func TestJoinSeedsLivenessAndEnqueues(t *testing.T) {
	assert := assert.New(t)
	d, tracker := newLeaderDispatcher(&fakeMachine{version: 5})

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdJoin, Node: record.Node{IP: "10.0.0.1", Port: 5000}})

	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(int64(5), resp.Epoch)
	assert.True(tracker.Touch("10.0.0.1:5000"))
	assert.Equal(1, d.worker.Backlog())
}

func TestPingKnownEndpointFreshEpoch(t *testing.T) {
	assert := assert.New(t)
	d, tracker := newLeaderDispatcher(&fakeMachine{version: 5})
	tracker.Add("10.0.0.1:5000")

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdPing, Node: record.Node{IP: "10.0.0.1", Port: 5000}, Epoch: 5})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(wire.HintOK, resp.Hint)
	assert.Equal(int64(5), resp.Epoch)
}

func TestPingStaleEpochHint(t *testing.T) {
	assert := assert.New(t)
	d, tracker := newLeaderDispatcher(&fakeMachine{version: 7})
	tracker.Add("10.0.0.1:5000")

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdPing, Node: record.Node{IP: "10.0.0.1", Port: 5000}, Epoch: 5})
	assert.Equal(wire.HintStaleEpoch, resp.Hint)
	assert.Equal(int64(7), resp.Epoch)
}

func TestPingUnknownEndpointAsksForRejoin(t *testing.T) {
	assert := assert.New(t)
	d, tracker := newLeaderDispatcher(&fakeMachine{version: 7})

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdPing, Node: record.Node{IP: "10.0.0.1", Port: 5000}, Epoch: 7})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(wire.HintRejoin, resp.Hint)
	// PING never registers an endpoint on its own.
	assert.False(tracker.Touch("10.0.0.1:5000"))
}

func TestInitRunsDistribute(t *testing.T) {
	assert := assert.New(t)
	machine := &fakeMachine{}
	d, _ := newLeaderDispatcher(machine)

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdInit, Num: 16})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal([]int{16}, machine.distributed)
}

func TestInitRejectedWhenAlreadyDistributed(t *testing.T) {
	assert := assert.New(t)
	machine := &fakeMachine{distributeErr: coordinatorerr.Corruption("already distributed")}
	d, _ := newLeaderDispatcher(machine)

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdInit, Num: 16})
	assert.Equal(wire.CodeInvalid, resp.Code)
}

func TestUnknownCommand(t *testing.T) {
	assert := assert.New(t)
	d, _ := newLeaderDispatcher(&fakeMachine{})
	resp := d.Dispatch(wire.Request{Cmd: wire.Cmd(99)})
	assert.Equal(wire.CodeInvalid, resp.Code)
}

func TestFollowerWithoutChannelReturnsNotLeader(t *testing.T) {
	assert := assert.New(t)
	tracker := liveness.NewTracker()
	w := worker.New(noopTopology{}, 16)
	lc := &fakeLifecycle{
		state:   leaderctl.StateFollower,
		leader:  "10.0.0.9:9200",
		dialErr: coordinatorerr.Unavailable("no channel"),
	}
	d := New(&fakeMachine{}, tracker, w, lc)

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdJoin, Node: record.Node{IP: "10.0.0.1", Port: 5000}})
	assert.Equal(wire.CodeNotLeader, resp.Code)
	assert.Equal("10.0.0.9:9200", resp.LeaderHint)
}

func TestFollowerForwardsWriteToLeader(t *testing.T) {
	assert := assert.New(t)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	// Stand-in leader: answer the one forwarded request.
	go func() {
		payload, err := wire.ReadFrame(remote)
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(payload)
		if err != nil || req.Cmd != wire.CmdJoin {
			return
		}
		wire.WriteFrame(remote, wire.EncodeResponse(wire.Response{Code: wire.CodeOK, Epoch: 12}))
	}()

	tracker := liveness.NewTracker()
	w := worker.New(noopTopology{}, 16)
	lc := &fakeLifecycle{state: leaderctl.StateFollower, leader: "10.0.0.9:9200", conn: local}
	d := New(&fakeMachine{}, tracker, w, lc)

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdJoin, Node: record.Node{IP: "10.0.0.1", Port: 5000}})
	assert.Equal(wire.CodeOK, resp.Code)
	assert.Equal(int64(12), resp.Epoch)
	// The forwarded JOIN must not have touched this follower's local state.
	assert.False(tracker.Touch("10.0.0.1:5000"))
	assert.Zero(w.Backlog())
}

func TestRedirectFailureDropsChannel(t *testing.T) {
	assert := assert.New(t)
	local, remote := net.Pipe()
	remote.Close() // writes to local now fail immediately
	defer local.Close()

	tracker := liveness.NewTracker()
	w := worker.New(noopTopology{}, 16)
	lc := &fakeLifecycle{state: leaderctl.StateFollower, leader: "10.0.0.9:9200", conn: local}
	d := New(&fakeMachine{}, tracker, w, lc)

	resp := d.Dispatch(wire.Request{Cmd: wire.CmdInit, Num: 4})
	assert.Equal(wire.CodeNotLeader, resp.Code)
	assert.True(lc.dropped)
}
