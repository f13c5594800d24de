package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCoreReset(t *testing.T) {
	assert.Equal(t, []byte{0x20, 0x00, 0x01, 0x00}, buildCoreReset(nciResetKeepConfig))
	assert.Equal(t, []byte{0x20, 0x00, 0x01, 0x01}, buildCoreReset(nciResetResetConfig))
}

func TestParseNCIResponse(t *testing.T) {
	resp, err := parseNCIResponse([]byte{0x40, 0x00, 0x03, 0x00, 0x11, 0x01})
	require.NoError(t, err)
	assert.Equal(t, nciGroupCore, resp.GID)
	assert.Equal(t, nciCoreReset, resp.OID)
	assert.True(t, isSuccessResponse(resp))
	assert.Equal(t, []byte{0x11, 0x01}, resp.Payload)

	_, err = parseNCIResponse([]byte{0x40, 0x00})
	assert.ErrorIs(t, err, errShortFrame)
	_, err = parseNCIResponse([]byte{0x40, 0x00, 0x03, 0x00})
	assert.ErrorIs(t, err, errShortFrame, "truncated payload")
	_, err = parseNCIResponse([]byte{0x20, 0x00, 0x01, 0x00})
	assert.Error(t, err, "command, not response")
	_, err = parseNCIResponse([]byte{0x40, 0x00, 0x00})
	assert.Error(t, err, "no status byte")
}
