package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCastQueuesAndDrains(t *testing.T) {
	assert := assert.New(t)
	gs := NewGenServerWithQlen(4)

	gs.Cast("first")
	gs.Cast("second")
	assert.Equal(2, gs.Len())

	assert.Equal("first", (<-gs.Casts).Request)
	assert.Equal("second", (<-gs.Casts).Request)
	assert.Zero(gs.Len())
}

func TestDefaultQlen(t *testing.T) {
	assert := assert.New(t)
	gs := NewGenServer()
	gs.Cast("only")
	assert.Equal(1, gs.Len())
	assert.Equal("only", (<-gs.Casts).Request)
}
