package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newProcessedCache(2)

	c.add("1:1")
	c.add("1:2")
	assert.True(t, c.contains("1:1")) // 1:1 becomes most recent

	c.add("1:3")

	assert.True(t, c.contains("1:1"))
	assert.False(t, c.contains("1:2"))
	assert.True(t, c.contains("1:3"))
	assert.Equal(t, 2, c.len())
}

func TestProcessedCache_ReAddDoesNotGrow(t *testing.T) {
	c := newProcessedCache(3)
	c.add("1:1")
	c.add("1:1")
	assert.Equal(t, 1, c.len())
}

func TestProcessedCache_MinimumSize(t *testing.T) {
	c := newProcessedCache(0)
	c.add("1:1")
	c.add("1:2")
	assert.Equal(t, 1, c.len())
	assert.True(t, c.contains("1:2"))
}

func TestProcessedKey(t *testing.T) {
	assert.Equal(t, "42:7", processedKey(42, 7))
	assert.NotEqual(t, processedKey(1, 7), processedKey(2, 7))
}
