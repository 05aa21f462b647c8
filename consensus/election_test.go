package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeq(t *testing.T) {
	assert := assert.New(t)

	seq, err := parseSeq("/metacoord/election/n-0000000007")
	assert.NoError(err)
	assert.Equal(int64(7), seq)

	// Protected ephemeral nodes carry a GUID between prefix and sequence.
	seq, err = parseSeq("_c_2dd34ab1-n-0000000112")
	assert.NoError(err)
	assert.Equal(int64(112), seq)
}

func TestParseSeqRejectsShortNames(t *testing.T) {
	_, err := parseSeq("n-7")
	assert.Error(t, err)
}
