package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basho-labs/riak-mesos-metacoord/record"
)

func TestRequestRoundTrips(t *testing.T) {
	assert := assert.New(t)
	for _, req := range []Request{
		{Cmd: CmdJoin, Node: record.Node{IP: "10.0.0.1", Port: 5000}},
		{Cmd: CmdPing, Node: record.Node{IP: "10.0.0.1", Port: 5000}, Epoch: 17},
		{Cmd: CmdPull},
		{Cmd: CmdInit, Num: 64},
	} {
		decoded, err := DecodeRequest(EncodeRequest(req))
		assert.NoError(err)
		assert.Equal(req, decoded)
	}
}

func TestResponseRoundTrips(t *testing.T) {
	assert := assert.New(t)
	table := record.PartitionsTable{
		Version: 4,
		Info: []record.Partition{{
			ID:     0,
			Master: record.Node{IP: "10.0.0.1", Port: 5000},
			Slaves: []record.Node{{IP: "10.0.0.2", Port: 5000}},
		}},
	}
	for _, resp := range []Response{
		{Code: CodeOK, Epoch: 4, Hint: HintOK},
		{Code: CodeOK, Epoch: 4, Hint: HintStaleEpoch},
		{Code: CodeOK, Hint: HintRejoin},
		{Code: CodeOK, Table: table},
		{Code: CodeNotLeader, LeaderHint: "10.0.0.9:9200"},
		{Code: CodeInternal},
	} {
		decoded, err := DecodeResponse(EncodeResponse(resp))
		assert.NoError(err)
		assert.Equal(resp, decoded)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	payload := EncodeRequest(Request{Cmd: CmdInit, Num: 8})

	assert.NoError(WriteFrame(&buf, payload))
	got, err := ReadFrame(&buf)
	assert.NoError(err)
	assert.Equal(payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	assert.NoError(WriteFrame(&buf, nil))
	got, err := ReadFrame(&buf)
	assert.NoError(err)
	assert.Empty(got)
}

func TestReadFrameRejectsAbsurdLength(t *testing.T) {
	assert := assert.New(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.Error(err)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	assert.NoError(WriteFrame(&buf, []byte("abcdef")))
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.Error(err)
}

func TestDecodeRequestGarbage(t *testing.T) {
	assert := assert.New(t)
	_, err := DecodeRequest([]byte{0x80})
	assert.Error(err)
}
