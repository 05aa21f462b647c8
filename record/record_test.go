package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	n := Node{IP: "10.0.0.1", Port: 5000}
	decoded, err := DecodeNode(EncodeNode(n))
	assert.NoError(err)
	assert.Equal(n, decoded)
}

func TestNodeEmpty(t *testing.T) {
	assert := assert.New(t)
	assert.True(Node{}.Empty())
	assert.False(Node{IP: "10.0.0.1"}.Empty())
	assert.False(Node{Port: 1}.Empty())
}

func TestNodesRoundTrip(t *testing.T) {
	assert := assert.New(t)
	nodes := Nodes{Entries: []NodeStatus{
		{Node: Node{IP: "10.0.0.1", Port: 5000}, Status: StatusUp},
		{Node: Node{IP: "10.0.0.2", Port: 5000}, Status: StatusDown},
	}}
	decoded, err := DecodeNodes(nodes.Encode())
	assert.NoError(err)
	assert.Equal(nodes, decoded)
}

func TestNodesFindAndUpSets(t *testing.T) {
	assert := assert.New(t)
	nodes := Nodes{Entries: []NodeStatus{
		{Node: Node{IP: "10.0.0.1", Port: 5000}, Status: StatusUp},
		{Node: Node{IP: "10.0.0.2", Port: 5000}, Status: StatusDown},
	}}
	assert.Equal(0, nodes.Find("10.0.0.1", 5000))
	assert.Equal(1, nodes.Find("10.0.0.2", 5000))
	assert.Equal(-1, nodes.Find("10.0.0.3", 5000))
	assert.Equal([]string{"10.0.0.1:5000"}, nodes.UpEndpoints())
	assert.Equal([]Node{{IP: "10.0.0.1", Port: 5000}}, nodes.UpEndpointNodes())
}

func TestPartitionsTableRoundTrip(t *testing.T) {
	assert := assert.New(t)
	table := PartitionsTable{
		Version: 7,
		Info: []Partition{
			{
				ID:     0,
				Master: Node{IP: "10.0.0.1", Port: 5000},
				Slaves: []Node{{IP: "10.0.0.2", Port: 5000}, {IP: "10.0.0.3", Port: 5000}},
			},
			{
				ID:     1,
				Master: Node{}, // orphaned partition
				Slaves: []Node{{IP: "10.0.0.2", Port: 5000}},
			},
		},
	}
	decoded, err := DecodePartitionsTable(table.Encode())
	assert.NoError(err)
	assert.Equal(table, decoded)
	assert.True(decoded.Info[1].Master.Empty())
}

func TestReplicasetRoundTrip(t *testing.T) {
	assert := assert.New(t)
	rs := Replicaset{ID: 3, Nodes: []Node{
		{IP: "10.0.0.1", Port: 5000},
		{IP: "10.0.0.2", Port: 5000},
		{IP: "10.0.0.3", Port: 5000},
	}}
	decoded, err := DecodeReplicaset(rs.Encode())
	assert.NoError(err)
	assert.Equal(rs, decoded)
}

func TestUnknownTrailingFieldsTolerated(t *testing.T) {
	assert := assert.New(t)
	w := NewWriter()
	w.String(nodeTagIP, "10.0.0.1")
	w.Int(nodeTagPort, 5000)
	w.String(99, "future field this decoder doesn't know about")
	decoded, err := DecodeNode(w.Bytes())
	assert.NoError(err)
	assert.Equal(Node{IP: "10.0.0.1", Port: 5000}, decoded)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "PART:0", PartitionKey(0))
	assert.Equal(t, "PART:42", PartitionKey(42))
}
