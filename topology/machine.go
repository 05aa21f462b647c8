// Package topology implements the coordinator's core state machine: the
// Nodes table, the PartitionsTable, Replicasets, PartitionNum and the
// monotonic epoch, plus the AddNode/OnNode/OffNode/Distribute operations
// that mutate them. Every mutation persists through the consensus store;
// every PartitionsTable write advances the epoch by exactly one, while
// changes that touch only the Nodes table leave the epoch unchanged.
package topology

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/coordinatorerr"
	"github.com/basho-labs/riak-mesos-metacoord/record"
)

// Store is the subset of consensus.Store the topology machine needs. A
// narrow interface keeps this package testable without a live ZooKeeper
// ensemble.
type Store interface {
	Read(key string) ([]byte, error)
	DirtyRead(key string) ([]byte, error)
	Write(key string, value []byte) error
}

// Machine is the coordinator's topology state machine. All mutating
// operations hold nodeMu for their full duration (load, decide, persist,
// advance epoch).
type Machine struct {
	store Store

	nodeMu  sync.Mutex
	version int64 // cached epoch, reloaded on leader promotion (leaderctl's becomeLeader)
}

// NewMachine wraps store. version should be the PartitionsTable.Version
// last observed in the consensus log (0 if MT has never been written).
func NewMachine(store Store, version int64) *Machine {
	return &Machine{store: store, version: version}
}

// Version returns the cached epoch.
func (m *Machine) Version() int64 {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()
	return m.version
}

// SetVersion overwrites the cached epoch, used by leaderctl's becomeLeader to reload
// it from the consensus log on promotion.
func (m *Machine) SetVersion(v int64) {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()
	m.version = v
}

func (m *Machine) loadNodes() (record.Nodes, error) {
	data, err := m.store.Read(record.KeyNodes)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return record.Nodes{}, nil
	}
	if err != nil {
		return record.Nodes{}, err
	}
	return record.DecodeNodes(data)
}

func (m *Machine) loadTable() (record.PartitionsTable, error) {
	data, err := m.store.Read(record.KeyPartitionsTable)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return record.PartitionsTable{}, nil
	}
	if err != nil {
		return record.PartitionsTable{}, err
	}
	return record.DecodePartitionsTable(data)
}

// GetAllNode is a dirty read of the Nodes table. It does not hold nodeMu
// and may observe slightly stale data.
func (m *Machine) GetAllNode() (record.Nodes, error) {
	data, err := m.store.DirtyRead(record.KeyNodes)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return record.Nodes{}, nil
	}
	if err != nil {
		return record.Nodes{}, err
	}
	return record.DecodeNodes(data)
}

// GetMSInfo is a dirty read of the PartitionsTable.
func (m *Machine) GetMSInfo() (record.PartitionsTable, error) {
	data, err := m.store.DirtyRead(record.KeyPartitionsTable)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return record.PartitionsTable{}, nil
	}
	if err != nil {
		return record.PartitionsTable{}, err
	}
	return record.DecodePartitionsTable(data)
}

// PartitionNums is a dirty read of PN, returning 0 if never set.
func (m *Machine) PartitionNums() (int, error) {
	data, err := m.store.DirtyRead(record.KeyPartitionNum)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, coordinatorerr.CorruptionWrap("decode PN", err)
	}
	return n, nil
}

// AddNode creates or revives a data node entry. A DOWN node flipping back
// to UP also runs the OnNode pass, since the returning node may be a slave
// of an orphaned partition.
func (m *Machine) AddNode(ip string, port int) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	nodes, err := m.loadNodes()
	if err != nil {
		return err
	}

	idx := nodes.Find(ip, port)
	if idx >= 0 {
		if nodes.Entries[idx].Status == record.StatusUp {
			return nil
		}
		nodes.Entries[idx].Status = record.StatusUp
		if err := m.store.Write(record.KeyNodes, nodes.Encode()); err != nil {
			return coordinatorerr.CorruptionWrap("persist Nodes in AddNode", err)
		}
		return m.onNodeLocked(ip, port)
	}

	nodes.Entries = append(nodes.Entries, record.NodeStatus{
		Node:   record.Node{IP: ip, Port: port},
		Status: record.StatusUp,
	})
	if err := m.store.Write(record.KeyNodes, nodes.Encode()); err != nil {
		return coordinatorerr.CorruptionWrap("persist Nodes in AddNode", err)
	}
	return nil
}

// OffNode marks a node DOWN and, for every partition it mastered,
// promotes the first UP slave, or orphans the partition if none is UP.
func (m *Machine) OffNode(ip string, port int) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	nodes, err := m.loadNodes()
	if err != nil {
		return err
	}
	upBeforeDown := make(map[string]bool)
	for _, e := range nodes.UpEndpoints() {
		upBeforeDown[e] = true
	}

	idx := nodes.Find(ip, port)
	if idx >= 0 {
		nodes.Entries[idx].Status = record.StatusDown
		if err := m.store.Write(record.KeyNodes, nodes.Encode()); err != nil {
			return coordinatorerr.CorruptionWrap("persist Nodes in OffNode", err)
		}
	}
	// The node being marked down can't be its own replacement slave.
	delete(upBeforeDown, (record.Node{IP: ip, Port: port}).Endpoint())

	table, err := m.loadTable()
	if err != nil {
		return err
	}

	changed := false
	for i := range table.Info {
		p := &table.Info[i]
		if p.Master.IP != ip || p.Master.Port != port {
			continue
		}
		changed = true
		former := p.Master
		replaced := -1
		for j, slave := range p.Slaves {
			if upBeforeDown[slave.Endpoint()] {
				replaced = j
				break
			}
		}
		if replaced >= 0 {
			p.Master = p.Slaves[replaced]
			p.Slaves[replaced] = former
			log.WithFields(log.Fields{
				"partition": p.ID, "old_master": former.Endpoint(), "new_master": p.Master.Endpoint(),
			}).Info("topology: promoted slave after master down")
		} else {
			p.Slaves = append(p.Slaves, former)
			p.Master = record.Node{}
			log.WithFields(log.Fields{"partition": p.ID, "former_master": former.Endpoint()}).
				Info("topology: no live slave, partition orphaned")
		}
	}

	if !changed {
		return nil
	}
	return m.persistTable(table)
}

// OnNode promotes (ip,port) to master of every orphaned partition whose
// slave list contains it.
func (m *Machine) OnNode(ip string, port int) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()
	return m.onNodeLocked(ip, port)
}

func (m *Machine) onNodeLocked(ip string, port int) error {
	table, err := m.loadTable()
	if err != nil {
		return err
	}
	changed := false
	for i := range table.Info {
		p := &table.Info[i]
		if !p.Master.Empty() {
			continue
		}
		for j, slave := range p.Slaves {
			if slave.IP != ip || slave.Port != port {
				continue
			}
			changed = true
			p.Master = slave
			last := len(p.Slaves) - 1
			p.Slaves[j] = p.Slaves[last]
			p.Slaves = p.Slaves[:last]
			log.WithFields(log.Fields{"partition": p.ID, "new_master": slave.Endpoint()}).
				Info("topology: orphan partition regained a master")
			break
		}
	}
	if !changed {
		return nil
	}
	return m.persistTable(table)
}

// persistTable writes table with version = cached version + 1 and advances
// the cached epoch only on success; a failed consensus write must leave
// the cached epoch where it was.
func (m *Machine) persistTable(table record.PartitionsTable) error {
	table.Version = m.version + 1
	if err := m.store.Write(record.KeyPartitionsTable, table.Encode()); err != nil {
		return coordinatorerr.CorruptionWrap("persist PartitionsTable", err)
	}
	m.version = table.Version
	return nil
}

// Distribute assigns num partitions across the currently UP nodes,
// spreading replicas across distinct hosts via Reorganize, then persists
// the Replicasets, the PartitionsTable and finally PartitionNum.
//
// PN is written last. If that write fails after MT has already advanced,
// a retried Distribute still observes PartitionNums()==0, re-derives the
// same placement from the same UP set, and overwrites MT with an
// equivalent table at version+1. Initialization is only considered
// complete once PN lands.
func (m *Machine) Distribute(num int) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	existingPN, err := m.partitionNumsLocked()
	if err != nil {
		return err
	}
	if existingPN != 0 {
		return coordinatorerr.Corruption("already distributed")
	}

	nodes, err := m.loadNodes()
	if err != nil {
		return err
	}
	up := nodes.UpEndpointNodes()
	if len(up) == 0 {
		return coordinatorerr.Corruption("no nodes")
	}

	spread := Reorganize(up)
	n := len(spread)

	table := record.PartitionsTable{Version: m.version + 1}
	for i := 0; i < num; i++ {
		master := spread[i%n]
		slave1 := spread[(i+1)%n]
		slave2 := spread[(i+2)%n]

		rs := record.Replicaset{ID: uint32(i), Nodes: []record.Node{master, slave1, slave2}}
		if err := m.store.Write(record.PartitionKey(uint32(i)), rs.Encode()); err != nil {
			return coordinatorerr.CorruptionWrap(fmt.Sprintf("persist replicaset %d", i), err)
		}

		table.Info = append(table.Info, record.Partition{
			ID:     uint32(i),
			Master: master,
			Slaves: []record.Node{slave1, slave2},
		})
	}

	if err := m.store.Write(record.KeyPartitionsTable, table.Encode()); err != nil {
		return coordinatorerr.CorruptionWrap("persist PartitionsTable in Distribute", err)
	}
	m.version = table.Version

	if err := m.store.Write(record.KeyPartitionNum, []byte(strconv.Itoa(num))); err != nil {
		return coordinatorerr.CorruptionWrap("persist PartitionNum", err)
	}
	return nil
}

func (m *Machine) partitionNumsLocked() (int, error) {
	data, err := m.store.Read(record.KeyPartitionNum)
	if coordinatorerr.Is(err, coordinatorerr.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, coordinatorerr.CorruptionWrap("decode PN", err)
	}
	return n, nil
}

// Reorganize permutes nodes so that consecutive entries come from
// different hosts wherever possible: nodes are bucketed by IP, buckets are
// visited in ascending-IP order, and on each pass every non-empty bucket
// contributes its tail entry, repeating until every bucket is drained.
// Sorting the bucket order makes the placement reproducible for a given
// input set.
func Reorganize(nodes []record.Node) []record.Node {
	buckets := make(map[string][]record.Node)
	var ips []string
	for _, n := range nodes {
		if _, ok := buckets[n.IP]; !ok {
			ips = append(ips, n.IP)
		}
		buckets[n.IP] = append(buckets[n.IP], n)
	}
	sort.Strings(ips)

	out := make([]record.Node, 0, len(nodes))
	for {
		progressed := false
		for _, ip := range ips {
			b := buckets[ip]
			if len(b) == 0 {
				continue
			}
			out = append(out, b[len(b)-1])
			buckets[ip] = b[:len(b)-1]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}
