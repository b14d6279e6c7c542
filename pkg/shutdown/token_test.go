package shutdown

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenCancel(t *testing.T) {
	var tok Token
	assert.False(t, tok.Cancelled())
	tok.Cancel()
	assert.True(t, tok.Cancelled())
	tok.Cancel()
	assert.True(t, tok.Cancelled())
}

func TestNotifyOnSignals(t *testing.T) {
	var tok Token
	stop := NotifyOnSignals(&tok, syscall.SIGUSR1)
	defer stop()

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	assert.Eventually(t, tok.Cancelled, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	var tok Token
	stop := NotifyOnSignals(&tok, syscall.SIGUSR2)
	stop()
	stop()
	assert.False(t, tok.Cancelled())
}
