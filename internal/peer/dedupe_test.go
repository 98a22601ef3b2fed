package peer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalDedupe_ObserveOnce(t *testing.T) {
	d := newSignalDedupe(4)

	assert.False(t, d.Observe("a"))
	assert.True(t, d.Observe("a"))
	assert.True(t, d.Observe("a"))
}

func TestSignalDedupe_EmptyIDNeverDeduped(t *testing.T) {
	d := newSignalDedupe(4)

	assert.False(t, d.Observe(""))
	assert.False(t, d.Observe(""))
	assert.Equal(t, 0, d.Len())
}

func TestSignalDedupe_EvictsOldest(t *testing.T) {
	d := newSignalDedupe(3)

	d.Observe("a")
	d.Observe("b")
	d.Observe("c")
	d.Observe("d") // evicts a

	assert.Equal(t, 3, d.Len())
	assert.False(t, d.Observe("a"))
	assert.True(t, d.Observe("d"))
}

func TestSignalDedupe_ObserveRefreshesRecency(t *testing.T) {
	d := newSignalDedupe(3)

	d.Observe("a")
	d.Observe("b")
	d.Observe("c")
	d.Observe("a") // a is now most recent
	d.Observe("d") // evicts b

	assert.True(t, d.Observe("a"))
	assert.False(t, d.Observe("b"))
}

func TestSignalDedupe_DefaultCapacity(t *testing.T) {
	d := newSignalDedupe(0)

	for i := 0; i < 300; i++ {
		d.Observe(strconv.Itoa(i))
	}
	assert.Equal(t, 256, d.Len())
}
