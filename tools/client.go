package main

import (
	"net"
	"time"

	"github.com/basho-labs/riak-mesos-metacoord/wire"
)

// CoordinatorClient speaks the coordinator's framed command protocol, one
// connection per invocation.
type CoordinatorClient struct {
	Endpoint string
	Timeout  time.Duration
}

// NewCoordinatorClient creates a client struct to be used for future calls
func NewCoordinatorClient(endpoint string) *CoordinatorClient {
	c := &CoordinatorClient{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	}

	return c
}

// Join announces a data node endpoint to the coordinator
func (client *CoordinatorClient) Join(ip string, port int) (wire.Response, error) {
	req := wire.Request{Cmd: wire.CmdJoin}
	req.Node.IP = ip
	req.Node.Port = port
	return client.do(req)
}

// Ping heartbeats a data node endpoint with its last-known epoch
func (client *CoordinatorClient) Ping(ip string, port int, epoch int64) (wire.Response, error) {
	req := wire.Request{Cmd: wire.CmdPing, Epoch: epoch}
	req.Node.IP = ip
	req.Node.Port = port
	return client.do(req)
}

// Pull fetches the current partitions table
func (client *CoordinatorClient) Pull() (wire.Response, error) {
	return client.do(wire.Request{Cmd: wire.CmdPull})
}

// Init creates the initial partition layout with num partitions
func (client *CoordinatorClient) Init(num uint32) (wire.Response, error) {
	return client.do(wire.Request{Cmd: wire.CmdInit, Num: num})
}

func (client *CoordinatorClient) do(req wire.Request) (wire.Response, error) {
	conn, err := net.DialTimeout("tcp", client.Endpoint, client.Timeout)
	if err != nil {
		return wire.Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(client.Timeout))

	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, err
	}
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.Response{}, err
	}
	return wire.DecodeResponse(payload)
}
