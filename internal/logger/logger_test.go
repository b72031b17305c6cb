package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentIsNewestFirst(t *testing.T) {
	l := New(10)
	l.Info("one")
	l.Warning("two")
	l.Error("three")

	recent := l.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Text)
	assert.Equal(t, "error", recent[0].Level)
	assert.Equal(t, "two", recent[1].Text)

	assert.Len(t, l.GetRecent(50), 3)
}

func TestBoundedAndSequenced(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Info(fmt.Sprintf("m%d", i))
	}

	recent := l.GetRecent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "m4", recent[0].Text)
	assert.Equal(t, uint64(5), recent[0].Seq)
	assert.Equal(t, uint64(5), l.LastSeq())

	after := l.After(3)
	require.Len(t, after, 2)
	assert.Equal(t, "m3", after[0].Text)
	assert.Equal(t, "m4", after[1].Text)

	// evicted messages are skipped
	assert.Len(t, l.After(0), 3)
	assert.Empty(t, l.After(5))
}
