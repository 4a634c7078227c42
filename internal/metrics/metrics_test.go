package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		c.TaskStarted("find")
		c.TaskJoined()
		c.MessageProcessed("task_exit")
		c.Notified(OutcomeSuccess)
		c.SetState(3)
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NotNil(t, c)

	c.TaskStarted("find")
	c.TaskStarted("find")
	c.TaskStarted("store")
	c.TaskJoined()
	c.MessageProcessed("search_result")
	c.Notified(OutcomeFailure)
	c.SetState(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksStarted.WithLabelValues("find")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksStarted.WithLabelValues("store")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesProcessed.WithLabelValues("search_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.clientState))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
