// Package record implements the canonical wire encoding for every entity
// the coordinator persists: Node, NodeStatus, Nodes, Partition,
// PartitionsTable and Replicaset.
//
// The encoding is a small tag/length/value family using protobuf wire
// framing: a varint field key of (tag<<3)|wireType followed by a varint
// (wireVarint) or a length-prefixed blob (wireBytes). Unknown trailing
// tags are skipped, not rejected, so a
// future writer can add fields without breaking older readers. Repeated
// groups (slaves, nodes, partitions) are encoded as a sequence of
// same-tagged entries and decoded back in that order, so re-encoding a
// decoded record reproduces the original bytes when the original carried
// no unknown tags; skipped unknown fields are not kept and are not
// re-encoded.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) key(tag int, wire int) {
	w.varint(uint64(tag<<3 | wire))
}

func (w *fieldWriter) varint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *fieldWriter) Uint(tag int, v uint64) {
	w.key(tag, wireVarint)
	w.varint(v)
}

func (w *fieldWriter) Int(tag int, v int64) {
	w.Uint(tag, uint64(v))
}

func (w *fieldWriter) bytesField(tag int, v []byte) {
	w.key(tag, wireBytes)
	w.varint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *fieldWriter) String(tag int, v string) {
	w.bytesField(tag, []byte(v))
}

func (w *fieldWriter) Message(tag int, m []byte) {
	w.bytesField(tag, m)
}

// Bytes returns the encoded record built so far.
func (w *fieldWriter) Bytes() []byte { return w.buf }

// Writer builds a TLV record field by field. Exported for packages that
// frame their own top-level records (see package wire) on top of the same
// primitives used internally here.
type Writer = fieldWriter

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &fieldWriter{} }

// Field is one decoded TLV field, exported for package wire's own record
// framing.
type Field struct {
	Tag   int
	Wire  int
	Uint  uint64
	Bytes []byte
}

// ParseFields decodes data into its top-level TLV fields.
func ParseFields(data []byte) ([]Field, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Tag: f.tag, Wire: f.wire, Uint: f.u, Bytes: f.b}
	}
	return out, nil
}

// EncodeNode encodes a Node as a standalone TLV message, for embedding by
// other top-level records (see package wire).
func EncodeNode(n Node) []byte { return encodeNode(n) }

// DecodeNode decodes a Node from a TLV message produced by EncodeNode.
func DecodeNode(data []byte) (Node, error) { return decodeNode(data) }

type field struct {
	tag  int
	wire int
	u    uint64
	b    []byte
}

func parseFields(data []byte) ([]field, error) {
	var fields []field
	for len(data) > 0 {
		key, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, io.ErrUnexpectedEOF
		}
		data = data[n:]
		tag := int(key >> 3)
		wire := int(key & 0x7)
		switch wire {
		case wireVarint:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, io.ErrUnexpectedEOF
			}
			data = data[n:]
			fields = append(fields, field{tag: tag, wire: wire, u: v})
		case wireBytes:
			l, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, io.ErrUnexpectedEOF
			}
			data = data[n:]
			if uint64(len(data)) < l {
				return nil, io.ErrUnexpectedEOF
			}
			fields = append(fields, field{tag: tag, wire: wire, b: data[:l]})
			data = data[l:]
		default:
			return nil, fmt.Errorf("record: unsupported wire type %d", wire)
		}
	}
	return fields, nil
}

// Node is a data-server network endpoint.
type Node struct {
	IP   string
	Port int
}

func (n Node) Empty() bool {
	return n.IP == "" && n.Port == 0
}

func (n Node) Endpoint() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

const (
	nodeTagIP   = 1
	nodeTagPort = 2
)

func encodeNode(n Node) []byte {
	w := &fieldWriter{}
	w.String(nodeTagIP, n.IP)
	w.Int(nodeTagPort, int64(n.Port))
	return w.Bytes()
}

func decodeNode(data []byte) (Node, error) {
	fields, err := parseFields(data)
	if err != nil {
		return Node{}, err
	}
	var n Node
	for _, f := range fields {
		switch f.tag {
		case nodeTagIP:
			n.IP = string(f.b)
		case nodeTagPort:
			n.Port = int(f.u)
		}
	}
	return n, nil
}

// Status is the liveness state of a Node as recorded in the Nodes table.
type Status int

const (
	StatusUp Status = iota
	StatusDown
)

// NodeStatus pairs a Node with its current Status.
type NodeStatus struct {
	Node   Node
	Status Status
}

const (
	nsTagNode   = 1
	nsTagStatus = 2
)

func encodeNodeStatus(ns NodeStatus) []byte {
	w := &fieldWriter{}
	w.Message(nsTagNode, encodeNode(ns.Node))
	w.Int(nsTagStatus, int64(ns.Status))
	return w.Bytes()
}

func decodeNodeStatus(data []byte) (NodeStatus, error) {
	fields, err := parseFields(data)
	if err != nil {
		return NodeStatus{}, err
	}
	var ns NodeStatus
	for _, f := range fields {
		switch f.tag {
		case nsTagNode:
			n, err := decodeNode(f.b)
			if err != nil {
				return NodeStatus{}, err
			}
			ns.Node = n
		case nsTagStatus:
			ns.Status = Status(f.u)
		}
	}
	return ns, nil
}

// Nodes is the ordered table of every known data server and its status.
// It is stored at the well-known key "ND".
type Nodes struct {
	Entries []NodeStatus
}

const nodesTagEntry = 1

func (n Nodes) Encode() []byte {
	w := &fieldWriter{}
	for _, e := range n.Entries {
		w.Message(nodesTagEntry, encodeNodeStatus(e))
	}
	return w.Bytes()
}

func DecodeNodes(data []byte) (Nodes, error) {
	fields, err := parseFields(data)
	if err != nil {
		return Nodes{}, err
	}
	var n Nodes
	for _, f := range fields {
		if f.tag != nodesTagEntry {
			continue
		}
		ns, err := decodeNodeStatus(f.b)
		if err != nil {
			return Nodes{}, err
		}
		n.Entries = append(n.Entries, ns)
	}
	return n, nil
}

// Find returns the index of the entry for (ip,port), or -1.
func (n Nodes) Find(ip string, port int) int {
	for i, e := range n.Entries {
		if e.Node.IP == ip && e.Node.Port == port {
			return i
		}
	}
	return -1
}

// UpEndpoints returns the set of endpoints currently marked UP.
func (n Nodes) UpEndpoints() []string {
	var out []string
	for _, e := range n.Entries {
		if e.Status == StatusUp {
			out = append(out, e.Node.Endpoint())
		}
	}
	return out
}

// UpEndpointNodes returns the Node values of every entry currently marked
// UP, in table order.
func (n Nodes) UpEndpointNodes() []Node {
	var out []Node
	for _, e := range n.Entries {
		if e.Status == StatusUp {
			out = append(out, e.Node)
		}
	}
	return out
}

// Partition is one shard's current master/slave assignment.
type Partition struct {
	ID     uint32
	Master Node
	Slaves []Node
}

const (
	partTagID     = 1
	partTagMaster = 2
	partTagSlave  = 3
)

func encodePartition(p Partition) []byte {
	w := &fieldWriter{}
	w.Uint(partTagID, uint64(p.ID))
	w.Message(partTagMaster, encodeNode(p.Master))
	for _, s := range p.Slaves {
		w.Message(partTagSlave, encodeNode(s))
	}
	return w.Bytes()
}

func decodePartition(data []byte) (Partition, error) {
	fields, err := parseFields(data)
	if err != nil {
		return Partition{}, err
	}
	var p Partition
	for _, f := range fields {
		switch f.tag {
		case partTagID:
			p.ID = uint32(f.u)
		case partTagMaster:
			m, err := decodeNode(f.b)
			if err != nil {
				return Partition{}, err
			}
			p.Master = m
		case partTagSlave:
			s, err := decodeNode(f.b)
			if err != nil {
				return Partition{}, err
			}
			p.Slaves = append(p.Slaves, s)
		}
	}
	return p, nil
}

// PartitionsTable (MSInfo) is the authoritative, versioned view of
// partition placement. Stored at the well-known key "MT".
type PartitionsTable struct {
	Version int64
	Info    []Partition
}

const (
	tableTagVersion   = 1
	tableTagPartition = 2
)

func (t PartitionsTable) Encode() []byte {
	w := &fieldWriter{}
	w.Int(tableTagVersion, t.Version)
	for _, p := range t.Info {
		w.Message(tableTagPartition, encodePartition(p))
	}
	return w.Bytes()
}

func DecodePartitionsTable(data []byte) (PartitionsTable, error) {
	fields, err := parseFields(data)
	if err != nil {
		return PartitionsTable{}, err
	}
	var t PartitionsTable
	for _, f := range fields {
		switch f.tag {
		case tableTagVersion:
			t.Version = int64(f.u)
		case tableTagPartition:
			p, err := decodePartition(f.b)
			if err != nil {
				return PartitionsTable{}, err
			}
			t.Info = append(t.Info, p)
		}
	}
	return t, nil
}

// Replicaset is the designed replica set for one partition, persisted
// separately from the live master/slave assignment at "PART:<id>".
type Replicaset struct {
	ID    uint32
	Nodes []Node
}

const (
	rsTagID   = 1
	rsTagNode = 2
)

func (r Replicaset) Encode() []byte {
	w := &fieldWriter{}
	w.Uint(rsTagID, uint64(r.ID))
	for _, n := range r.Nodes {
		w.Message(rsTagNode, encodeNode(n))
	}
	return w.Bytes()
}

func DecodeReplicaset(data []byte) (Replicaset, error) {
	fields, err := parseFields(data)
	if err != nil {
		return Replicaset{}, err
	}
	var r Replicaset
	for _, f := range fields {
		switch f.tag {
		case rsTagID:
			r.ID = uint32(f.u)
		case rsTagNode:
			n, err := decodeNode(f.b)
			if err != nil {
				return Replicaset{}, err
			}
			r.Nodes = append(r.Nodes, n)
		}
	}
	return r, nil
}

// PartitionKey builds the "PART:<id>" key for a partition's Replicaset.
func PartitionKey(id uint32) string {
	return fmt.Sprintf("PART:%d", id)
}

const (
	// KeyNodes is the well-known key for the Nodes table.
	KeyNodes = "ND"
	// KeyPartitionsTable is the well-known key for PartitionsTable.
	KeyPartitionsTable = "MT"
	// KeyPartitionNum is the well-known key for the decimal PartitionNum.
	KeyPartitionNum = "PN"
)
