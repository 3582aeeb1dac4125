// Package runlog maintains the append-only audit trail of report
// executions. Writes are best-effort: a logging failure never blocks
// or fails the execution it records. There is no retention policy.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reportdeck/reportd/pkg/dbconn"
)

// Execution statuses. Every attempt starts as running and ends as
// success or error; a crash in between leaves a permanently running row.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Details is the structured payload stored with a log entry.
type Details struct {
	StoredProcedure string             `json:"stored_procedure"`
	Parameters      []string           `json:"parameters"`
	InputValues     map[string]*string `json:"input_values"`
	Columns         []string           `json:"columns,omitempty"`
	RowsReturned    int                `json:"rows_returned,omitempty"`
	Error           *string            `json:"error,omitempty"`
}

// Entry is one execution attempt as read back from the log.
type Entry struct {
	ID         int64      `json:"id"`
	ReportName string     `json:"report_name"`
	UserName   string     `json:"user_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Details    string     `json:"details,omitempty"`
}

// Log writes and reads execution log entries over caller-provided
// runtime-role connections.
type Log struct {
	log logrus.FieldLogger
}

// New creates a Log.
func New(log logrus.FieldLogger) *Log {
	return &Log{log: log.WithField("component", "runlog")}
}

func schemaDDL(driver string) string {
	switch driver {
	case dbconn.DriverPostgres:
		return `CREATE TABLE IF NOT EXISTS report_log (
			id BIGSERIAL PRIMARY KEY,
			report_name TEXT NOT NULL,
			user_name TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'running',
			details TEXT
		)`
	case dbconn.DriverMySQL:
		return `CREATE TABLE IF NOT EXISTS report_log (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			report_name VARCHAR(255) NOT NULL,
			user_name VARCHAR(255),
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status VARCHAR(30) NOT NULL DEFAULT 'running',
			details TEXT
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS report_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_name TEXT NOT NULL,
			user_name TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'running',
			details TEXT
		)`
	}
}

// Start inserts a running entry and returns its id, or nil when the
// insert (or the schema ensure) fails. A nil id is not an error for
// the caller.
func (l *Log) Start(
	ctx context.Context,
	conn *dbconn.Conn,
	reportName, userName string,
	details Details,
) *int64 {
	if _, err := conn.ExecContext(ctx, schemaDDL(conn.Driver)); err != nil {
		l.log.WithError(err).Warn("Failed to ensure report_log table")

		return nil
	}

	payload, err := json.Marshal(details)
	if err != nil {
		l.log.WithError(err).Warn("Failed to encode log details")

		return nil
	}

	now := time.Now().UTC()

	if conn.Driver == dbconn.DriverPostgres {
		var id int64
		if err := conn.QueryRowContext(ctx,
			`INSERT INTO report_log
				(report_name, user_name, started_at, status, details)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			reportName, userName, now, StatusRunning, string(payload),
		).Scan(&id); err != nil {
			l.log.WithError(err).Warn("Failed to insert execution log entry")

			return nil
		}

		return &id
	}

	result, err := conn.ExecContext(ctx,
		`INSERT INTO report_log
			(report_name, user_name, started_at, status, details)
		VALUES (?, ?, ?, ?, ?)`,
		reportName, userName, now, StatusRunning, string(payload))
	if err != nil {
		l.log.WithError(err).Warn("Failed to insert execution log entry")

		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		l.log.WithError(err).Warn("Failed to read execution log id")

		return nil
	}

	return &id
}

// Finish transitions an entry to its terminal status. A nil id (the
// insert never happened) makes this a no-op; update failures are
// logged and swallowed.
func (l *Log) Finish(
	ctx context.Context,
	conn *dbconn.Conn,
	id *int64,
	status string,
	details Details,
) {
	if id == nil {
		return
	}

	payload, err := json.Marshal(details)
	if err != nil {
		l.log.WithError(err).Warn("Failed to encode log details")

		return
	}

	d := conn.Driver

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(
		`UPDATE report_log
		SET finished_at = %s, status = %s, details = %s
		WHERE id = %s`,
		dbconn.Placeholder(d, 1), dbconn.Placeholder(d, 2),
		dbconn.Placeholder(d, 3), dbconn.Placeholder(d, 4)),
		time.Now().UTC(), status, string(payload), *id,
	); err != nil {
		l.log.WithError(err).
			WithField("log_id", *id).
			Warn("Failed to finalize execution log entry")
	}
}

// List returns the most recent entries, newest first.
func (l *Log) List(
	ctx context.Context, conn *dbconn.Conn, limit int,
) ([]Entry, error) {
	if _, err := conn.ExecContext(ctx, schemaDDL(conn.Driver)); err != nil {
		return nil, fmt.Errorf("ensuring report_log table: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, report_name, user_name, started_at, finished_at,
			status, details
		FROM report_log ORDER BY id DESC LIMIT `+
			dbconn.Placeholder(conn.Driver, 1),
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing execution log: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)

	for rows.Next() {
		var (
			e          Entry
			userName   sql.NullString
			finishedAt sql.NullTime
			details    sql.NullString
		)

		if err := rows.Scan(
			&e.ID, &e.ReportName, &userName, &e.StartedAt,
			&finishedAt, &e.Status, &details,
		); err != nil {
			return nil, fmt.Errorf("scanning execution log entry: %w", err)
		}

		e.UserName = userName.String

		if finishedAt.Valid {
			t := finishedAt.Time
			e.FinishedAt = &t
		}

		e.Details = details.String

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing execution log: %w", err)
	}

	return entries, nil
}
