package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
	"taskcoord/lib/ids"
)

func TestClientErrorSuppressesInMemorySameTick(t *testing.T) {
	b := NewBatch()
	c := ids.ClientID(1)
	taskID := ids.TaskID(7)

	b.ClientInMemory(c, taskID)
	b.ClientTaskErred(c, taskID)

	events := b.ClientEvents(c)
	require.Len(t, events, 1)
	require.Equal(t, ClientTaskErred, events[0].Kind)
}

func TestClientInMemoryAfterErrorIsSuppressed(t *testing.T) {
	b := NewBatch()
	c := ids.ClientID(1)
	taskID := ids.TaskID(7)

	b.ClientTaskErred(c, taskID)
	b.ClientInMemory(c, taskID)

	events := b.ClientEvents(c)
	require.Len(t, events, 1)
	require.Equal(t, ClientTaskErred, events[0].Kind)
}

func TestClientOrderPreservesInsertionOrder(t *testing.T) {
	b := NewBatch()
	b.ClientInMemory(ids.ClientID(2), ids.TaskID(1))
	b.ClientInMemory(ids.ClientID(1), ids.TaskID(1))
	b.ClientInMemory(ids.ClientID(2), ids.TaskID(2))

	require.Equal(t, []ids.ClientID{2, 1}, b.ClientOrder())
	require.Len(t, b.ClientEvents(ids.ClientID(2)), 2)
}

func TestWorkerOrderAndEvents(t *testing.T) {
	b := NewBatch()
	b.WorkerCompute(ids.WorkerID(1), ids.TaskID(1))
	b.WorkerDelete(ids.WorkerID(1), ids.TaskID(2), "deleted-key")
	b.WorkerSteal(ids.WorkerID(2), ids.TaskID(3), "stolen-key")

	require.Equal(t, []ids.WorkerID{1, 2}, b.WorkerOrder())
	require.Equal(t, []WorkerEvent{
		{Kind: WorkerCompute, TaskID: 1},
		{Kind: WorkerDelete, TaskID: 2, Key: "deleted-key"},
	}, b.WorkerEvents(ids.WorkerID(1)))
}

func TestSchedulerEventsPreserveInsertionOrder(t *testing.T) {
	b := NewBatch()
	b.SchedulerNew(ids.TaskID(1))
	b.SchedulerNew(ids.TaskID(2))
	b.SchedulerReady(ids.TaskID(1))
	b.SchedulerLost(ids.TaskID(3))

	require.Equal(t, []SchedulerEvent{
		{Kind: SchedulerTaskNew, TaskID: 1},
		{Kind: SchedulerTaskNew, TaskID: 2},
		{Kind: SchedulerTaskReady, TaskID: 1},
		{Kind: SchedulerLostData, TaskID: 3},
	}, b.Scheduler)
}

func TestIsEmpty(t *testing.T) {
	b := NewBatch()
	require.True(t, b.IsEmpty())
	b.SchedulerNew(ids.TaskID(1))
	require.False(t, b.IsEmpty())
}
