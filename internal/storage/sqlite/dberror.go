package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/abathur-swarm/swarmcore/internal/types"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func durationSecondsPtr(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(d.Seconds())
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapDBError classifies a raw database/sql error into the store's sentinel
// taxonomy (spec.md §7): a locked/busy database is transient and safe to
// retry, anything else is treated as fatal to the calling operation.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("%s: %w: %v", op, types.ErrTransientStore, err)
	}
	return fmt.Errorf("%s: %w: %v", op, types.ErrFatalStore, err)
}

// execer abstracts *sql.DB and *sql.Tx so tree/prune helpers can run either
// standalone or nested inside a caller's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ execer = (*sql.DB)(nil)
var _ execer = (*sql.Tx)(nil)
