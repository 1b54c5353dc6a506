package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadlineValid(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.True(t, deadlineValid(&future, now))
	assert.False(t, deadlineValid(&past, now))
	assert.False(t, deadlineValid(&now, now), "a deadline at now is already spent")
	assert.False(t, deadlineValid(nil, now), "unset deadlines fail closed")
}

func TestDeadlinePassed(t *testing.T) {
	now := time.Now()

	assert.True(t, deadlinePassed(now.Add(-time.Second), now))
	assert.True(t, deadlinePassed(now, now))
	assert.False(t, deadlinePassed(now.Add(time.Second), now))
}
