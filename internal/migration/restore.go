package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/adminsys/fieldcrypt"
)

// Restore writes backed-up stored values and blind indexes back into their
// rows, undoing a migration run. All records are restored in one transaction.
func Restore(ctx context.Context, db *sql.DB, records []BackupRecord, style fieldcrypt.PlaceholderStyle) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("migration: begin restore: %w", err)
	}
	defer tx.Rollback()

	restored := 0
	for _, rec := range records {
		query, args, err := restoreStatement(rec, style)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("migration: restoring %s %s=%v: %w", rec.Table, rec.KeyColumn, rec.Key, err)
		}
		restored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("migration: commit restore: %w", err)
	}
	return restored, nil
}

func restoreStatement(rec BackupRecord, style fieldcrypt.PlaceholderStyle) (string, []interface{}, error) {
	if !fieldcrypt.ValidColumnName(rec.Table) || !fieldcrypt.ValidColumnName(rec.KeyColumn) {
		return "", nil, fmt.Errorf("migration: invalid identifier in backup record for %q", rec.Table)
	}
	if len(rec.Values) == 0 {
		return "", nil, fmt.Errorf("migration: backup record for %s %v has no values", rec.Table, rec.Key)
	}

	cols := make([]string, 0, len(rec.Values))
	for c := range rec.Values {
		if !fieldcrypt.ValidColumnName(c) {
			return "", nil, fmt.Errorf("migration: invalid column %q in backup record", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	n := 0
	next := func() string {
		n++
		if style == fieldcrypt.PlaceholderDollar {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	sets := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", c, next()))
		args = append(args, nullable(rec.Values[c]))
	}
	args = append(args, rec.Key)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", rec.Table, strings.Join(sets, ", "), rec.KeyColumn, next())
	return query, args, nil
}
