package engine

import (
	"context"

	"taskcoord/lib/core"
	"taskcoord/lib/notify"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

func (e *Engine) handleClientMessage(ctx context.Context, batch *notify.Batch, clientID core.ClientID, msg wire.FromClientMessage) {
	switch msg.Op {
	case wire.OpHeartbeatClient:
		// no-op reply: nothing to notify.
	case wire.OpUpdateGraph:
		e.ingestUpdateGraph(ctx, batch, clientID, msg.UpdateGraph)
	case wire.OpClientReleasesKeys:
		core.ClientReleasesKeys(e.store, batch, clientID, msg.ClientReleasesKeys.Keys)
	case wire.OpClientDesiresKeys:
		unknown := core.ClientDesiresKeys(e.store, batch, clientID, msg.ClientDesiresKeys.Keys)
		for _, key := range unknown {
			e.logger.Warn(&slog.LogRecord{Msg: "Engine: ClientDesiresKeys named an unknown key", TaskKey: key, ClientID: slog.U64(uint64(clientID))})
		}
	case wire.OpCloseClient, wire.OpCloseStream:
		// The session's own teardown already enqueues ClientDisconnected.
	}
}

// ingestUpdateGraph implements the UpdateGraph ingestion algorithm:
// validate dependencies, allocate ids, emit TaskNew to the scheduler
// channel in dependency order (roots first), then apply client ownership
// for the desired keys.
func (e *Engine) ingestUpdateGraph(ctx context.Context, batch *notify.Batch, clientID core.ClientID, msg *wire.UpdateGraphMsg) {
	specsByKey := make(map[string]wire.ClientTaskSpec, len(msg.Tasks))
	order := make([]string, 0, len(msg.Tasks))
	for _, entry := range msg.Tasks {
		specsByKey[entry.Key] = entry.Spec
		order = append(order, entry.Key)
	}

	batchInput := make([]core.NewTaskInput, 0, len(msg.Tasks))
	for _, key := range order {
		in := core.NewTaskInput{
			Key:            key,
			Spec:           toCoreSpec(specsByKey[key]),
			DependencyKeys: msg.Dependencies[key],
			UserPriority:   msg.UserPriority,
		}
		if msg.Actors != nil {
			in.Actors = *msg.Actors
		}
		if p, ok := msg.Priority[key]; ok {
			in.SchedulerPriority = p
			in.HasSchedulerPriority = true
		}
		batchInput = append(batchInput, in)
	}

	tasks, created, err := e.store.AddTasks(batchInput)
	if err != nil {
		e.reportIngestionError(batch, clientID, order, err)
		return
	}

	newlyCreated := make([]*core.Task, 0, len(tasks))
	for i, t := range tasks {
		if created[i] {
			newlyCreated = append(newlyCreated, t)
		}
	}
	topo := topologicalOrder(newlyCreated)
	core.EmitNewTasks(batch, topo)

	unknown := core.ClientDesiresKeys(e.store, batch, clientID, msg.Keys)
	for _, key := range unknown {
		e.logger.Warn(&slog.LogRecord{Msg: "Engine: UpdateGraph named an unknown desired key", TaskKey: key, ClientID: slog.U64(uint64(clientID))})
	}
}

// reportIngestionError synthesizes a TaskErred for every key in the
// rejected batch, per the coordinator's UnknownDependency/DuplicateKey
// propagation policy: the rest of the coordinator is unaffected. The batch
// was rejected atomically before any task existed, so there is no task id
// to attach the error to in a notify.Batch; it is reported directly to the
// originating client's session instead.
func (e *Engine) reportIngestionError(batch *notify.Batch, clientID core.ClientID, keys []string, err error) {
	e.logger.Warn(&slog.LogRecord{Msg: "Engine: UpdateGraph rejected", ClientID: slog.U64(uint64(clientID)), Error: err})
	if cs, ok := e.clients[clientID]; ok {
		for _, key := range keys {
			cs.Send(wire.ToClientMessage{
				Op: wire.OpTaskErred,
				TaskErred: &wire.ClientTaskErredMsg{
					Key:       key,
					Exception: []byte(err.Error()),
				},
			})
		}
	}
}

func toCoreSpec(s wire.ClientTaskSpec) core.TaskSpec {
	if s.Form == wire.SpecSerialized {
		return core.TaskSpec{Form: core.SpecSerialized, Blob: s.Serialized}
	}
	return core.TaskSpec{
		Form:     core.SpecDirect,
		Function: s.Direct.Function,
		Args:     s.Direct.Args,
		Kwargs:   s.Direct.Kwargs,
	}
}

// topologicalOrder sorts newly created tasks so each dependency precedes
// its dependents, breaking ties by ascending task id for reproducibility.
func topologicalOrder(tasks []*core.Task) []*core.Task {
	byID := make(map[core.TaskID]*core.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	visited := make(map[core.TaskID]bool, len(tasks))
	out := make([]*core.Task, 0, len(tasks))

	ids := make([]core.TaskID, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sortTaskIDs(ids)

	var visit func(id core.TaskID)
	visit = func(id core.TaskID) {
		if visited[id] {
			return
		}
		visited[id] = true
		t, ok := byID[id]
		if !ok {
			return // dependency predates this batch; already emitted earlier.
		}
		for _, depID := range t.Dependencies.Sorted() {
			visit(depID)
		}
		out = append(out, t)
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}
