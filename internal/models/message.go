package models

// Message is a single stored submission. Messages are write-once: they are
// created by an insert and only ever removed by an explicit delete.
type Message struct {
	ID        int64  `json:"id" db:"id"`
	Timestamp string `json:"timestamp" db:"timestamp"` // formatted by the submitter, opaque to the store
	Message   string `json:"message" db:"message"`
}
