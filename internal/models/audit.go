package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit action tags recorded by the orchestrator and enforcement service.
const (
	AuditSuspendVersion     = "ENFORCE_SUSPEND_VERSION"
	AuditRemoveVersion      = "ENFORCE_REMOVE_VERSION"
	AuditRevokeEntitlements = "ENFORCE_REVOKE_ENTITLEMENTS"
	AuditTunerWarning       = "ENFORCE_TUNER_WARNING"
	AuditUploadBan          = "ENFORCE_UPLOAD_BAN"
	AuditMalwareSuspension  = "ENFORCE_MALWARE_SUSPENSION"
)

// AuditEntry is an append-only record of a state-changing action. Entries
// are never mutated or deleted; they are the sole forensic record of
// enforcement actions.
type AuditEntry struct {
	ID        int64
	ActorID   *uuid.UUID // nil for system actions
	Action    string
	Data      json.RawMessage
	CreatedAt time.Time
}
