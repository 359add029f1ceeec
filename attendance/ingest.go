package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/worktrack/engine/generic"
)

// =============================================================================
// INGESTION
// =============================================================================

// Event is one normalized check-in/check-out event.
type Event struct {
	Identifier string    // employee external id or device person id
	EventType  EventType //
	Timestamp  string    // ISO-8601; empty means Time (or now when Time is zero)
	Time       time.Time // already-parsed timestamp (manual entry)
	SourceID   string    // external event id, idempotency key when non-empty
	Source     Source
}

// IngestResult reports what Ingest did.
type IngestResult struct {
	Log      Log
	Employee Employee
	Created  bool // false on an idempotent replay
	Summary  *DailySummary
}

// Ingestor stores events idempotently and keeps the day's summary current.
type Ingestor struct {
	store      Store
	reconciler *Reconciler
	logger     *zap.Logger
	now        func() time.Time
}

func NewIngestor(store Store, reconciler *Reconciler, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, reconciler: reconciler, logger: logger, now: time.Now}
}

// Ingest resolves the employee, stores the log unless the source id was seen
// before, and recomputes the day. An unknown identifier is rejected with
// generic.ErrEmployeeNotFound and nothing is written; a malformed timestamp
// aborts with a *generic.TimestampError.
func (in *Ingestor) Ingest(ctx context.Context, ev Event) (*IngestResult, error) {
	identifier := strings.TrimSpace(ev.Identifier)
	if identifier == "" {
		return nil, &generic.EmployeeNotFoundError{Identifier: ev.Identifier}
	}
	if ev.EventType != CheckIn && ev.EventType != CheckOut {
		return nil, fmt.Errorf("%w: %q", generic.ErrInvalidEventType, ev.EventType)
	}

	emp, err := in.store.FindActiveEmployee(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("resolve employee %q: %w", identifier, err)
	}
	if emp == nil {
		in.logger.Warn("ingest rejected: employee not found", zap.String("identifier", identifier))
		return nil, &generic.EmployeeNotFoundError{Identifier: identifier}
	}

	sourceID := strings.TrimSpace(ev.SourceID)
	if sourceID != "" {
		existing, err := in.store.GetLogBySourceID(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("lookup source id %q: %w", sourceID, err)
		}
		if existing != nil {
			return in.replay(ctx, *emp, *existing)
		}
	}

	ts, err := in.timestamp(ev)
	if err != nil {
		return nil, err
	}

	source := ev.Source
	if source == "" {
		source = SourceDevice
	}
	log := Log{
		ID:         generic.NewID(),
		EmployeeID: emp.ID,
		EventType:  ev.EventType,
		Timestamp:  ts,
		SourceID:   sourceID,
		Source:     source,
		CreatedAt:  in.now().UTC(),
	}

	if err := in.store.InsertLog(ctx, log); err != nil {
		if !errors.Is(err, generic.ErrDuplicateSourceID) {
			return nil, fmt.Errorf("insert log: %w", err)
		}
		// Lost a race with a concurrent delivery of the same event.
		existing, lookupErr := in.store.GetLogBySourceID(ctx, sourceID)
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("insert log: %w", err)
		}
		return in.replay(ctx, *emp, *existing)
	}

	in.logger.Info("attendance log stored",
		zap.String("employee", emp.ExternalID),
		zap.String("event_type", string(log.EventType)),
		zap.Time("timestamp", log.Timestamp),
		zap.String("source_id", log.SourceID),
		zap.String("source", string(log.Source)),
	)
	return in.finish(ctx, *emp, log, true), nil
}

func (in *Ingestor) timestamp(ev Event) (time.Time, error) {
	loc := in.reconciler.Location()
	if ev.Timestamp != "" {
		return generic.ParseTimestamp(ev.Timestamp, loc)
	}
	if !ev.Time.IsZero() {
		return ev.Time, nil
	}
	return in.now().In(loc), nil
}

// replay answers a re-delivered source id with the stored log. The day is
// recomputed for the log's owner, which is not emp when a device reuses a
// source id for another person.
func (in *Ingestor) replay(ctx context.Context, emp Employee, existing Log) (*IngestResult, error) {
	if existing.EmployeeID != emp.ID {
		owner, err := in.store.GetEmployee(ctx, existing.EmployeeID)
		if err != nil {
			return nil, fmt.Errorf("load log owner %q: %w", existing.EmployeeID, err)
		}
		if owner == nil {
			return nil, &generic.EmployeeNotFoundError{Identifier: existing.EmployeeID}
		}
		in.logger.Warn("source id replayed for another employee",
			zap.String("source_id", existing.SourceID),
			zap.String("sent_for", emp.ExternalID),
			zap.String("owner", owner.ExternalID),
		)
		emp = *owner
	}
	return in.finish(ctx, emp, existing, false), nil
}

// finish recomputes the log's day. A failed recompute is logged; the stored
// log stands and the next recompute or batch run repairs the summary.
func (in *Ingestor) finish(ctx context.Context, emp Employee, log Log, created bool) *IngestResult {
	res := &IngestResult{Log: log, Employee: emp, Created: created}
	day := generic.DateOf(log.Timestamp.In(in.reconciler.Location()))
	summary, err := in.reconciler.Recompute(ctx, emp, day)
	if err != nil {
		in.logger.Error("recompute after ingest failed",
			zap.String("employee", emp.ExternalID),
			zap.Stringer("date", day),
			zap.Error(err),
		)
		return res
	}
	res.Summary = summary
	return res
}
