package core

// Worker is the coordinator's record of one registered worker process.
// It is created on the registration handshake and destroyed when its
// connection ends.
type Worker struct {
	ID            WorkerID
	ListenAddress string
	NCPUs         uint32

	// Owns is the set of tasks this worker currently holds in memory or has
	// been assigned to compute. Maintained as the reverse of each Task's
	// WorkerOwners/AssignedWorker so that UnregisterWorker can visit exactly
	// the tasks that need updating without scanning the whole Store.
	Owns TaskIDSet
}

func NewWorker(id WorkerID, listenAddress string, ncpus uint32) *Worker {
	return &Worker{
		ID:            id,
		ListenAddress: listenAddress,
		NCPUs:         ncpus,
		Owns:          NewTaskIDSet(),
	}
}
