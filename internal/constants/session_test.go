package constants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	assert.Equal(t, time.Second, ReconnectDelay(0))
	assert.Equal(t, 2*time.Second, ReconnectDelay(1))
	assert.Equal(t, 16*time.Second, ReconnectDelay(4))
	assert.Equal(t, 30*time.Second, ReconnectDelay(5))
	assert.Equal(t, 30*time.Second, ReconnectDelay(60))
	assert.Equal(t, time.Second, ReconnectDelay(-3))
}
