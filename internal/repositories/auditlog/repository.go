package auditlog

import (
	"context"

	"github.com/google/uuid"
)

// Repository appends to the audit log. Entries are never updated or
// deleted; there are deliberately no mutation methods.
type Repository interface {
	// Append records an action with a structured payload. actor is nil for
	// system-initiated actions.
	Append(ctx context.Context, actor *uuid.UUID, action string, data any) error
}
