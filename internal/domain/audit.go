package domain

import "time"

// CommandStatus is the final outcome recorded for an execute request.
type CommandStatus string

const (
	StatusExecuted CommandStatus = "EXECUTED"
	StatusRejected CommandStatus = "REJECTED"
)

// AuditLog is one immutable decision record. Username is populated only by
// the admin listing projection (joined from accounts).
type AuditLog struct {
	ID        int64         `json:"id"`
	AccountID int64         `json:"account_id"`
	Username  string        `json:"username,omitempty"`
	Command   string        `json:"command"`
	Status    CommandStatus `json:"status"`
	Response  string        `json:"response"`
	CreatedAt time.Time     `json:"timestamp"`
}

// DecisionRecord is the write side of one finalized decision: the audit row
// plus whether a credit debit belongs in the same transaction.
type DecisionRecord struct {
	AccountID int64
	Command   string
	Status    CommandStatus
	Response  string
	Debit     bool
}
