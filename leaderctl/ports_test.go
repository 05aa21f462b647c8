package leaderctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortDerivation(t *testing.T) {
	assert := assert.New(t)
	p := Ports{FYShift: 100, CmdShift: 200}

	assert.Equal(9100, p.consensusPort(9000))
	assert.Equal(9200, p.commandPort(9000))
	assert.Equal("10.0.0.1:9200", p.LocalCommandEndpoint("10.0.0.1", 9000))
	assert.Equal("10.0.0.1:9100", p.LocalConsensusEndpoint("10.0.0.1", 9000))
}

func TestCommandEndpointFromConsensusEndpoint(t *testing.T) {
	assert := assert.New(t)
	p := Ports{FYShift: 100, CmdShift: 200}

	cmd, err := p.CommandEndpoint("10.0.0.1:9100")
	assert.NoError(err)
	assert.Equal("10.0.0.1:9200", cmd)

	// Round trip: advertise, then derive.
	cmd, err = p.CommandEndpoint(p.LocalConsensusEndpoint("10.0.0.2", 9000))
	assert.NoError(err)
	assert.Equal(p.LocalCommandEndpoint("10.0.0.2", 9000), cmd)
}

func TestCommandEndpointRejectsGarbage(t *testing.T) {
	assert := assert.New(t)
	p := DefaultPorts

	_, err := p.CommandEndpoint("no-port-here")
	assert.Error(err)
	_, err = p.CommandEndpoint("10.0.0.1:not-a-number")
	assert.Error(err)
}

func TestDefaultPortsDistinct(t *testing.T) {
	assert.NotEqual(t, DefaultPorts.FYShift, DefaultPorts.CmdShift)
}
