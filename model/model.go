package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// SyncResult is the outcome of one SyncOrder call. It never carries a Go
// error: failures are reported in Error so batch callers keep going.
type SyncResult struct {
	LocalID       string     `json:"local_id"`
	OrderID       string     `json:"order_id,omitempty"`
	Success       bool       `json:"success"`
	Skipped       bool       `json:"skipped,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Error         string     `json:"error,omitempty"`
	Warning       string     `json:"warning,omitempty"`
	ServerOrderID string     `json:"server_order_id,omitempty"`
	Status        SyncStatus `json:"status,omitempty"`
}

// BatchResult summarises a SyncAllPending run.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	// Deferred counts failed orders still inside their retry backoff or
	// past the automatic attempt cap. They are not part of Total.
	Deferred   int          `json:"deferred"`
	Reason     string       `json:"reason,omitempty"`
	Details    []SyncResult `json:"details"`
}

// Reason codes reported when a sync does not run.
const (
	ReasonOffline      = "offline"
	ReasonNothingToDo  = "no_pending_orders"
	ReasonNotEligible  = "not_eligible"
	ReasonRaceSkipped  = "already_handled"
	ReasonLocked       = "locked"
	ReasonNotFound     = "not_found"
	ReasonRetryBackoff = "retry_backoff"
	ReasonInProgress   = "sync_in_progress"
	ReasonStorage      = "storage_error"
)
