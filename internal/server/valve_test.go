package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValveBurstThenThrottle(t *testing.T) {
	v := NewValve(6)

	for i := 0; i < 6; i++ {
		assert.Zero(t, v.Take("10.0.0.1"), "attempt %v should pass untouched", i)
	}
	wait := v.Take("10.0.0.1")
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestValveSourcesIndependent(t *testing.T) {
	v := NewValve(6)

	for i := 0; i < 6; i++ {
		v.Take("10.0.0.1")
	}
	assert.Greater(t, v.Take("10.0.0.1"), time.Duration(0))
	assert.Zero(t, v.Take("10.0.0.2"))
}
