package attendance

import (
	"context"
	"time"

	"github.com/worktrack/engine/generic"
)

// Store is the persistence the attendance engine needs. store/sqlite
// implements it; lookups return (nil, nil) when the row does not exist.
type Store interface {
	// FindActiveEmployee matches identifier exactly against the external
	// employee id, then the device person id, among active employees only.
	FindActiveEmployee(ctx context.Context, identifier string) (*Employee, error)
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	GetSchedule(ctx context.Context, id string) (*WorkSchedule, error)

	GetLog(ctx context.Context, id string) (*Log, error)
	GetLogBySourceID(ctx context.Context, sourceID string) (*Log, error)
	// InsertLog returns generic.ErrDuplicateSourceID when the source id is taken.
	InsertLog(ctx context.Context, log Log) error
	DeleteLog(ctx context.Context, id string) error
	// LogsBetween returns an employee's logs in [from, to) ordered by timestamp.
	LogsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]Log, error)

	// SaveDailyResult overwrites the summary for (employee, date) and, in the
	// same transaction, upserts the lateness record or supersedes any
	// existing one when lateness is nil.
	SaveDailyResult(ctx context.Context, summary DailySummary, lateness *LatenessRecord) error

	HasExemption(ctx context.Context, employeeID string, day generic.Date) (bool, error)
}
