// Package migration moves encrypted table columns from one key epoch to another.
//
// Migration is destructive and offline: run it with the application stopped,
// keep the backup it writes, and verify the report before restarting in the
// target epoch.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/adminsys/fieldcrypt"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Column is one encrypted column. IndexColumn, when set, receives the blind
// index recomputed from the normalized plaintext.
type Column struct {
	Name        string
	IndexColumn string
	Normalizer  fieldcrypt.Normalizer
}

// Table lists the encrypted columns of one table and its key column.
type Table struct {
	Name    string
	Key     string
	Columns []Column
}

// DefaultTables returns the encrypted columns of the admin system schema.
// Blind indexes on users are computed from the raw plaintext, matching how
// they are written at sign-up.
func DefaultTables() []Table {
	return []Table{
		{
			Name: "users",
			Key:  "id",
			Columns: []Column{
				{Name: "line_user_id", IndexColumn: "line_user_id_hash", Normalizer: fieldcrypt.NormalizeNone},
				{Name: "email", IndexColumn: "email_hash", Normalizer: fieldcrypt.NormalizeNone},
				{Name: "ragic_employee_id"},
				{Name: "display_name"},
			},
		},
		{
			Name:    "sop_documents",
			Key:     "id",
			Columns: []Column{{Name: "content"}},
		},
	}
}

// Options configures a migration run.
type Options struct {
	// DryRun migrates in memory and rolls back every transaction.
	DryRun bool
	// Backup, when set, receives the original stored values and blind
	// indexes of every row before it is rewritten. Nothing is written on a
	// dry run.
	Backup *BackupWriter
	// Placeholder selects the bind parameter syntax of the target database.
	Placeholder fieldcrypt.PlaceholderStyle
	// Logger receives progress messages; nil discards them.
	Logger *logrus.Entry
	// RunID tags the report and log lines; empty generates one.
	RunID string
}

// TableReport counts the outcome for one table.
type TableReport struct {
	Rows     int
	Migrated int
	Failed   int
}

// Report summarizes a migration run.
type Report struct {
	RunID  string
	DryRun bool
	Tables map[string]*TableReport
}

// Total returns the summed counts across tables.
func (r *Report) Total() TableReport {
	var t TableReport
	for _, tr := range r.Tables {
		t.Rows += tr.Rows
		t.Migrated += tr.Migrated
		t.Failed += tr.Failed
	}
	return t
}

// NewRunID returns a fresh identifier for a migration run.
func NewRunID() string {
	return uuid.NewString()
}

// Run migrates every table with m, one transaction per table.
//
// A row is rewritten only if all of its non-NULL columns migrate; otherwise it is
// left untouched and its errors are collected. The returned error aggregates
// every row failure (a *multierror.Error) together with any fatal database error.
func Run(ctx context.Context, db *sql.DB, m *fieldcrypt.Migrator, tables []Table, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}

	report := &Report{RunID: runID, DryRun: opts.DryRun, Tables: make(map[string]*TableReport)}
	var result *multierror.Error

	for _, t := range tables {
		if err := t.validate(); err != nil {
			return report, err
		}

		tlog := log.WithFields(logrus.Fields{"run_id": runID, "table": t.Name})
		tlog.Info("migrating table")

		tr, rowErrs, err := migrateTable(ctx, db, m, t, opts)
		report.Tables[t.Name] = tr
		result = multierror.Append(result, rowErrs...)
		if err != nil {
			result = multierror.Append(result, err)
			return report, result.ErrorOrNil()
		}

		tlog.WithFields(logrus.Fields{
			"rows":     tr.Rows,
			"migrated": tr.Migrated,
			"failed":   tr.Failed,
		}).Info("table migrated")
	}

	return report, result.ErrorOrNil()
}

func (t Table) validate() error {
	names := []string{t.Name, t.Key}
	for _, c := range t.Columns {
		names = append(names, c.Name)
		if c.IndexColumn != "" {
			names = append(names, c.IndexColumn)
		}
	}
	for _, n := range names {
		if !fieldcrypt.ValidColumnName(n) {
			return fmt.Errorf("migration: invalid identifier %q in table %q", n, t.Name)
		}
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("migration: table %q has no encrypted columns", t.Name)
	}
	return nil
}

type row struct {
	key     interface{}
	values  []sql.NullString
	indexes []sql.NullString
}

func migrateTable(ctx context.Context, db *sql.DB, m *fieldcrypt.Migrator, t Table, opts Options) (*TableReport, []error, error) {
	tr := &TableReport{}

	rows, err := readRows(ctx, db, t)
	if err != nil {
		return tr, nil, err
	}
	tr.Rows = len(rows)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return tr, nil, fmt.Errorf("migration: begin %s: %w", t.Name, err)
	}
	defer tx.Rollback()

	update := updateStatement(t, opts.Placeholder)
	var rowErrs []error

	for _, r := range rows {
		args, err := migrateRow(m, t, r)
		if err != nil {
			tr.Failed++
			rowErrs = append(rowErrs, fmt.Errorf("%s %s=%v: %w", t.Name, t.Key, r.key, err))
			continue
		}

		if opts.Backup != nil && !opts.DryRun {
			if err := opts.Backup.Write(backupRecord(t, r)); err != nil {
				return tr, rowErrs, err
			}
		}

		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return tr, rowErrs, fmt.Errorf("migration: updating %s %s=%v: %w", t.Name, t.Key, r.key, err)
		}
		tr.Migrated++
	}

	if opts.DryRun {
		return tr, rowErrs, nil
	}
	if err := tx.Commit(); err != nil {
		return tr, rowErrs, fmt.Errorf("migration: commit %s: %w", t.Name, err)
	}
	return tr, rowErrs, nil
}

// readRows loads the whole table before any update so the read cursor is
// closed when the transaction starts (SQLite allows a single connection).
func readRows(ctx context.Context, db *sql.DB, t Table) ([]row, error) {
	cols := make([]string, 0, 2*len(t.Columns)+1)
	cols = append(cols, t.Key)
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}
	for _, c := range t.Columns {
		if c.IndexColumn != "" {
			cols = append(cols, c.IndexColumn)
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), t.Name, t.Key)

	rs, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("migration: reading %s: %w", t.Name, err)
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		r := row{
			values:  make([]sql.NullString, len(t.Columns)),
			indexes: make([]sql.NullString, len(t.Columns)),
		}
		dest := make([]interface{}, 0, len(cols))
		dest = append(dest, &r.key)
		for i := range r.values {
			dest = append(dest, &r.values[i])
		}
		for i, c := range t.Columns {
			if c.IndexColumn != "" {
				dest = append(dest, &r.indexes[i])
			}
		}
		if err := rs.Scan(dest...); err != nil {
			return nil, fmt.Errorf("migration: scanning %s: %w", t.Name, err)
		}
		if b, ok := r.key.([]byte); ok {
			r.key = string(b)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("migration: reading %s: %w", t.Name, err)
	}
	return out, nil
}

// migrateRow returns the UPDATE arguments for one row: new values (and
// indexes) in column order followed by the key.
func migrateRow(m *fieldcrypt.Migrator, t Table, r row) ([]interface{}, error) {
	var args []interface{}
	var errs *multierror.Error

	for i, c := range t.Columns {
		var stored *string
		if r.values[i].Valid {
			stored = &r.values[i].String
		}

		field, err := m.MigrateIndexed(stored, c.Normalizer)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("column %s: %w", c.Name, err))
			continue
		}

		args = append(args, nullable(field.Stored))
		if c.IndexColumn != "" {
			if field.BlindIndex == "" {
				args = append(args, nil)
			} else {
				args = append(args, field.BlindIndex)
			}
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return append(args, r.key), nil
}

func updateStatement(t Table, style fieldcrypt.PlaceholderStyle) string {
	n := 0
	next := func() string {
		n++
		if style == fieldcrypt.PlaceholderDollar {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	var sets []string
	for _, c := range t.Columns {
		sets = append(sets, fmt.Sprintf("%s = %s", c.Name, next()))
		if c.IndexColumn != "" {
			sets = append(sets, fmt.Sprintf("%s = %s", c.IndexColumn, next()))
		}
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", t.Name, strings.Join(sets, ", "), t.Key, next())
}

// backupRecord keeps the index columns next to the values so a restore puts
// the row back in its source epoch as a whole.
func backupRecord(t Table, r row) BackupRecord {
	values := make(map[string]*string, 2*len(t.Columns))
	for i, c := range t.Columns {
		values[c.Name] = nullString(r.values[i])
		if c.IndexColumn != "" {
			values[c.IndexColumn] = nullString(r.indexes[i])
		}
	}
	return BackupRecord{Table: t.Name, KeyColumn: t.Key, Key: r.key, Values: values}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
