package common

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestStats(t *testing.T) {
	s := NewStats()
	s.Add("write", 10)
	s.Add("write", 30)
	s.Add("read", 4)

	assert.Equal(t, 20.0, s.Avg("write"))
	assert.Zero(t, s.Avg("seek"))

	assert.Equal(t, []OpStat{
		{Op: "read", Count: 1, Bytes: 4},
		{Op: "write", Count: 2, Bytes: 40},
	}, s.Snapshot())
}
