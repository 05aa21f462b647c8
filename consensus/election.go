package consensus

import (
	"sort"
	"strconv"
	"strings"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
)

const electionPrefix = "n-"

// Candidacy is this peer's entry in the leader election, an ephemeral
// sequential znode under /metacoord/election. The peer holding the
// lowest-numbered sequential child is leader. Unlike a lock recipe we
// never block waiting for predecessors; each poll just compares this
// peer's sequence number against the current minimum.
type Candidacy struct {
	store    *Store
	self     string
	nodePath string
	seq      int64
}

// Campaign registers self (this peer's advertised consensus endpoint,
// "ip:port") as a candidate. The returned Candidacy stays valid until the
// process loses its ZooKeeper session; callers re-campaign after a
// reconnect.
func (s *Store) Campaign(self string) (*Candidacy, error) {
	conn := s.getConn()
	p, err := conn.CreateProtectedEphemeralSequential(
		electionPath+"/"+electionPrefix, []byte(self), zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, coordinatorerr.UnavailableWrap("zk campaign", err)
	}
	seq, err := parseSeq(p)
	if err != nil {
		return nil, coordinatorerr.CorruptionWrap("zk campaign: bad sequence node "+p, err)
	}
	return &Candidacy{store: s, self: self, nodePath: p, seq: seq}, nil
}

// Leader returns the endpoint data of whichever candidate currently holds
// the lowest sequence number, or "" if no candidate is registered yet.
func (c *Candidacy) Leader() (string, error) {
	return c.store.Leader()
}

// IsLeader reports whether this candidacy currently holds the lowest
// sequence number.
func (c *Candidacy) IsLeader() (bool, error) {
	leader, err := c.Leader()
	if err != nil {
		return false, err
	}
	return leader == c.self, nil
}

// Resign deletes this peer's candidacy node, e.g. on clean shutdown.
func (c *Candidacy) Resign() error {
	conn := c.store.getConn()
	err := conn.Delete(c.nodePath, -1)
	if err != nil && err != zk.ErrNoNode {
		return coordinatorerr.UnavailableWrap("zk resign", err)
	}
	return nil
}

// Leader resolves the current leader's advertised consensus endpoint
// from the election namespace directly, without requiring a live
// Candidacy.
func (s *Store) Leader() (string, error) {
	conn := s.getConn()
	children, _, err := conn.Children(electionPath)
	if err != nil {
		return "", coordinatorerr.UnavailableWrap("zk children election", err)
	}
	if len(children) == 0 {
		return "", nil
	}
	sort.Slice(children, func(i, j int) bool {
		si, _ := parseSeq(children[i])
		sj, _ := parseSeq(children[j])
		return si < sj
	})
	data, _, err := conn.Get(electionPath + "/" + children[0])
	if err == zk.ErrNoNode {
		// Raced with a resignation; caller retries on next poll.
		return "", nil
	}
	if err != nil {
		return "", coordinatorerr.UnavailableWrap("zk get leader node", err)
	}
	return string(data), nil
}

// parseSeq extracts the trailing 10-digit sequence number ZooKeeper
// appends to a sequential znode's name.
func parseSeq(nodePath string) (int64, error) {
	name := nodePath
	if idx := strings.LastIndex(nodePath, "/"); idx >= 0 {
		name = nodePath[idx+1:]
	}
	if len(name) < 10 {
		return 0, coordinatorerr.Corruption("sequence node name too short: " + name)
	}
	return strconv.ParseInt(name[len(name)-10:], 10, 64)
}
