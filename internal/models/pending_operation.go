package models

// OperationType is the kind of mutation a pending operation replays.
type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// Valid reports whether o is one of the known operation types.
func (o OperationType) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// PendingOperation is one not-yet-synced mutation in the ledger.
//
// For a CREATE, LocalEntityID holds the negative local id and EntityID stays 0
// until the server acknowledges the create. For UPDATE and DELETE, EntityID
// holds the server id and LocalEntityID is 0.
//
// FollowUp is set on a CREATE that was edited or deleted locally while in
// flight. The acknowledgement then enqueues that operation for the new id.
type PendingOperation struct {
	LocalID         int64         `db:"local_id" json:"local_id"`
	EntityType      EntityType    `db:"entity_type" json:"entity_type"`
	OperationType   OperationType `db:"operation_type" json:"operation_type"`
	EntityID        int64         `db:"entity_id" json:"entity_id"`
	LocalEntityID   int64         `db:"local_entity_id" json:"local_entity_id"`
	Payload         string        `db:"payload" json:"payload"`
	RequestID       string        `db:"request_id" json:"request_id"`
	CreatedAtMillis int64         `db:"created_at" json:"created_at"`
	RetryCount      int32         `db:"retry_count" json:"retry_count"`
	LastError       *string       `db:"last_error" json:"last_error,omitempty"`
	Status          SyncStatus    `db:"status" json:"status"`
	FollowUp        OperationType `db:"follow_up" json:"follow_up,omitempty"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// TargetID returns the id the operation acts on: the server id when known,
// otherwise the local id of the entity being created.
func (p *PendingOperation) TargetID() int64 {
	if p.EntityID != 0 {
		return p.EntityID
	}
	return p.LocalEntityID
}

// MarkSyncing records that a drain loop picked the operation up.
func (p *PendingOperation) MarkSyncing() {
	p.Status = SyncStatusSyncing
}

// MarkFailed records a failed delivery attempt.
func (p *PendingOperation) MarkFailed(err error) {
	p.Status = SyncStatusFailed
	p.RetryCount++
	if err != nil {
		msg := err.Error()
		p.LastError = &msg
	}
}

// MarkCompleted records a successful delivery.
func (p *PendingOperation) MarkCompleted() {
	p.Status = SyncStatusCompleted
	p.LastError = nil
}
