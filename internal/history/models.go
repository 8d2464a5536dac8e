package history

import (
	"time"

	"github.com/uptrace/bun"
)

// Entry is one recorded action outcome
type Entry struct {
	bun.BaseModel `bun:"table:action_history"`

	ID        string    `bun:"id,pk" json:"id"`
	Hostname  string    `bun:"hostname,notnull" json:"hostname"`
	Action    string    `bun:"action,notnull" json:"action"`
	Success   bool      `bun:"success,notnull" json:"success"`
	Message   string    `bun:"message" json:"message"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"timestamp"`
}

// TerminalRecord is the final state of a terminal session
type TerminalRecord struct {
	bun.BaseModel `bun:"table:terminal_sessions"`

	SessionID   string    `bun:"session_id,pk" json:"session_id"`
	Hostname    string    `bun:"hostname,notnull" json:"hostname"`
	Kind        string    `bun:"kind,notnull" json:"kind"`
	FinalState  string    `bun:"final_state,notnull" json:"final_state"`
	CloseReason string    `bun:"close_reason" json:"close_reason"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	ClosedAt    time.Time `bun:"closed_at,notnull" json:"closed_at"`
}
