package core

// Client is the coordinator's record of one connected client. It is
// created on client hello; on disconnect or explicit close, every task
// loses this client from its ClientOwners.
type Client struct {
	ID ClientID

	// Desired is the set of keys (by task id) this client has asked to be
	// notified about, via the "keys" of an UpdateGraph or a standalone
	// ClientDesiresKeys message. It is the forward view of the ClientOwners
	// membership recorded on each Task, kept so client teardown can visit
	// exactly the owned tasks without scanning the whole Store.
	Desired TaskIDSet
}

func NewClient(id ClientID) *Client {
	return &Client{
		ID:      id,
		Desired: NewTaskIDSet(),
	}
}
