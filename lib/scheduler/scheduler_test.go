package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskcoord/lib/core"
)

type recordingSink struct {
	mu          sync.Mutex
	assignments [][]Assignment
	fatal       error
	fatalCh     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fatalCh: make(chan struct{})}
}

func (s *recordingSink) ReportAssignments(batch []Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, batch)
}

func (s *recordingSink) ReportFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
		close(s.fatalCh)
	}
}

func (s *recordingSink) batches() [][]Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Assignment(nil), s.assignments...)
}

func TestChannelDropsAssignmentsBeforeRegister(t *testing.T) {
	sink := newRecordingSink()
	inbound := make(chan FromSchedulerEvent, 4)
	outbound := make(chan ToSchedulerEvent, 4)
	ch := NewChannel(ChannelConfig{Sink: sink, Inbound: inbound, Outbound: outbound})
	ch.Start(context.Background())
	defer ch.Stop()

	inbound <- FromSchedulerEvent{
		Kind:        FromSchedulerTaskAssignments,
		Assignments: []Assignment{{TaskID: core.TaskID(1), WorkerID: core.WorkerID(1)}},
	}

	select {
	case <-sink.fatalCh:
	case <-time.After(time.Second):
		t.Fatal("expected a fatal report for a message before Register")
	}
	require.Empty(t, sink.batches())
}

func TestChannelAcceptsAssignmentsAfterRegister(t *testing.T) {
	sink := newRecordingSink()
	inbound := make(chan FromSchedulerEvent, 4)
	outbound := make(chan ToSchedulerEvent, 4)
	ch := NewChannel(ChannelConfig{Sink: sink, Inbound: inbound, Outbound: outbound})
	ch.Start(context.Background())
	defer ch.Stop()

	inbound <- FromSchedulerEvent{Kind: FromSchedulerRegister, Register: RegisterInfo{PolicyName: "fifo"}}
	inbound <- FromSchedulerEvent{
		Kind:        FromSchedulerTaskAssignments,
		Assignments: []Assignment{{TaskID: core.TaskID(1), WorkerID: core.WorkerID(2), Priority: 5}},
	}

	require.Eventually(t, func() bool {
		return len(sink.batches()) == 1
	}, time.Second, time.Millisecond)
	require.Nil(t, sink.fatal)
}

func TestChannelFatalOnDuplicateRegister(t *testing.T) {
	sink := newRecordingSink()
	inbound := make(chan FromSchedulerEvent, 4)
	outbound := make(chan ToSchedulerEvent, 4)
	ch := NewChannel(ChannelConfig{Sink: sink, Inbound: inbound, Outbound: outbound})
	ch.Start(context.Background())
	defer ch.Stop()

	inbound <- FromSchedulerEvent{Kind: FromSchedulerRegister}
	inbound <- FromSchedulerEvent{Kind: FromSchedulerRegister}

	select {
	case <-sink.fatalCh:
	case <-time.After(time.Second):
		t.Fatal("expected a fatal report for a duplicate Register")
	}
}

func TestChannelSend(t *testing.T) {
	sink := newRecordingSink()
	inbound := make(chan FromSchedulerEvent)
	outbound := make(chan ToSchedulerEvent, 1)
	ch := NewChannel(ChannelConfig{Sink: sink, Inbound: inbound, Outbound: outbound})

	err := ch.Send(context.Background(), ToSchedulerEvent{
		Kind:       ToSchedulerTaskNew,
		Descriptor: TaskDescriptor{TaskID: core.TaskID(1)},
	})
	require.NoError(t, err)

	select {
	case ev := <-outbound:
		require.Equal(t, ToSchedulerTaskNew, ev.Kind)
	default:
		t.Fatal("expected a queued outbound event")
	}
}
