package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenTap_WithoutConnection(t *testing.T) {
	_, err := OpenTap(nil, TapOptions{Exchange: "events"})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

func TestTap_CloseNil(t *testing.T) {
	var tap *Tap
	assert.NoError(t, tap.Close())
	assert.NoError(t, (&Tap{}).Close())
}
