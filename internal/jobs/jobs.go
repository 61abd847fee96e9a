// Package jobs dispatches validation work over NATS. The upload boundary
// publishes a validation request when a package lands in quarantine; a
// queue group of validator workers consumes them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/logging"
)

const (
	// SubjectValidate carries validation requests.
	SubjectValidate = "revsync.validate.request"
	// QueueValidators is the worker queue group; each request is delivered
	// to one member.
	QueueValidators = "validators"
)

// ValidateRequest is the job payload.
type ValidateRequest struct {
	VersionID uuid.UUID `json:"version_id"`
}

// Runner is what the consumer invokes per request; the pipeline satisfies
// it.
type Runner interface {
	Run(ctx context.Context, versionID uuid.UUID) error
}

// Bus wraps the NATS connection for validation dispatch.
type Bus struct {
	nc  *nats.Conn
	log logging.Logger
}

// Connect dials NATS with reconnect handling.
func Connect(url string, log logging.Logger) (*Bus, error) {
	ctx := context.Background()
	opts := []nats.Option{
		nats.Name("revsync-validator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn(ctx, "nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(ctx, "nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{nc: nc, log: log.With("component", "jobs")}, nil
}

// Close drains the connection so in-flight handlers finish.
func (b *Bus) Close() {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
}

// PublishValidateRequest enqueues a validation run for a version.
func (b *Bus) PublishValidateRequest(versionID uuid.UUID) error {
	data, err := json.Marshal(ValidateRequest{VersionID: versionID})
	if err != nil {
		return fmt.Errorf("marshal validate request: %w", err)
	}
	if err := b.nc.Publish(SubjectValidate, data); err != nil {
		return fmt.Errorf("publish validate request: %w", err)
	}
	return nil
}

// SubscribeValidate attaches the worker queue subscription. Handler errors
// are logged, not retried here; redelivery policy belongs to the
// infrastructure. A duplicate trigger for a version already in VALIDATING
// is expected and logged at info level.
func (b *Bus) SubscribeValidate(ctx context.Context, runner Runner) (*nats.Subscription, error) {
	sub, err := b.nc.QueueSubscribe(SubjectValidate, QueueValidators, func(msg *nats.Msg) {
		var req ValidateRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			b.log.Error(ctx, "undecodable validate request dropped", "error", err)
			return
		}
		if req.VersionID == uuid.Nil {
			b.log.Error(ctx, "validate request without version_id dropped")
			return
		}

		if err := runner.Run(ctx, req.VersionID); err != nil {
			if errors.Is(err, common.ErrAlreadyValidating) {
				b.log.Info(ctx, "validation already in progress", "version_id", req.VersionID)
				return
			}
			b.log.Error(ctx, "validation run error", "version_id", req.VersionID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectValidate, err)
	}
	return sub, nil
}
