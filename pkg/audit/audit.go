// Package audit submits security-relevant events to the append-only audit
// trail: a structured log record plus an optional ledger collaborator that
// returns opaque receipts.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aegis-server/pkg/errors"
	"aegis-server/pkg/metrics"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Client is the contract the orchestrator consumes: submit an event, get
// back an opaque receipt id. Implementations must bound their blocking
// time; failures are reported but never fatal to the caller.
type Client interface {
	Submit(ctx context.Context, eventKind string, payload map[string]interface{}, highPriority bool) (string, error)
}

// LogClient writes audit events as structured log records and forwards
// them to the ledger when one is configured.
type LogClient struct {
	logger  *logrus.Logger
	ledger  LedgerWriter
	timeout time.Duration
}

// NewLogClient creates the default audit client. ledger may be nil.
func NewLogClient(logger *logrus.Logger, ledger LedgerWriter, timeout time.Duration) *LogClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LogClient{
		logger:  logger,
		ledger:  ledger,
		timeout: timeout,
	}
}

// Submit implements Client. A receipt is always generated; the returned
// error reports a ledger append failure so callers can record it without
// treating it as fatal.
func (c *LogClient) Submit(ctx context.Context, eventKind string, payload map[string]interface{}, highPriority bool) (string, error) {
	receipt := uuid.NewString()
	if payload == nil {
		payload = make(map[string]interface{})
	}

	fields := logrus.Fields{
		"audit":         true,
		"audit_kind":    eventKind,
		"receipt_id":    receipt,
		"high_priority": highPriority,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		if _, reserved := fields[k]; reserved {
			continue
		}
		fields[k] = v
	}

	c.logger.WithFields(fields).Info("audit.event")

	if c.ledger == nil {
		metrics.RecordAuditSubmission(OutcomeSuccess)
		return receipt, nil
	}

	record := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["details"] = payload

	if err := c.appendBounded(ctx, record); err != nil {
		metrics.RecordAuditSubmission(OutcomeFailure)
		c.logger.WithError(err).WithField("receipt_id", receipt).
			Warn("Failed to append audit record to ledger")
		return receipt, errors.Wrap(errors.ErrLedgerFailure, "audit submit",
			map[string]interface{}{"kind": eventKind, "cause": err.Error()})
	}

	metrics.RecordAuditSubmission(OutcomeSuccess)
	return receipt, nil
}

// appendBounded runs the ledger append under the client's timeout so a
// slow ledger cannot stall the caller past a bounded window.
func (c *LogClient) appendBounded(ctx context.Context, record map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.ledger.Append(record)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "ledger append")
	}
}
