package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/adminsys/fieldcrypt"
	"github.com/adminsys/fieldcrypt/internal/migration"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

type migrateOptions struct {
	dbPath     string
	dryRun     bool
	backupPath string
}

func newMigrateCommand(g *globalOptions) *cobra.Command {
	o := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "re-encrypt database columns from the legacy epoch to HKDF keys",
		Long: `Migrate decrypts every encrypted column with the master key used directly
(legacy epoch) and re-encrypts it with HKDF-derived keys, recomputing the
blind index columns. Stop the application before running it and restart it
with ENCRYPTION_LEGACY_MODE unset afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, g, o)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.dbPath, "db", "", "path to the SQLite database")
	fs.BoolVar(&o.dryRun, "dry-run", false, "migrate in a transaction that is rolled back")
	fs.StringVar(&o.backupPath, "backup", "", "write the original stored values and blind indexes to this zstd file")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "backup")
	return cmd
}

func runMigrate(cmd *cobra.Command, g *globalOptions, o *migrateOptions) error {
	log := g.logger()

	keyHex, err := g.provider().MasterKeyHex()
	if err != nil {
		return err
	}
	masterKey, err := fieldcrypt.ParseMasterKeyHex(keyHex)
	if err != nil {
		return fmt.Errorf("%w: %w", fieldcrypt.ErrConfiguration, err)
	}
	m, err := fieldcrypt.NewEpochMigrator(masterKey,
		fieldcrypt.WithLogger(log),
		fieldcrypt.WithPlaceholderStyle(fieldcrypt.PlaceholderQuestion),
	)
	for i := range masterKey {
		masterKey[i] = 0
	}
	if err != nil {
		return err
	}
	defer m.Close()

	db, err := openSQLite(o.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := migration.NewRunID()
	opts := migration.Options{
		DryRun:      o.dryRun,
		Placeholder: fieldcrypt.PlaceholderQuestion,
		Logger:      log,
		RunID:       runID,
	}

	var backupFile *os.File
	if o.backupPath != "" {
		backupFile, err = os.OpenFile(o.backupPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
		defer backupFile.Close()

		bw, err := migration.NewBackupWriter(backupFile, runID)
		if err != nil {
			return err
		}
		opts.Backup = bw
	}

	report, runErr := migration.Run(cmd.Context(), db, m, migration.DefaultTables(), opts)

	if opts.Backup != nil {
		if err := opts.Backup.Close(); err != nil {
			runErr = multierror.Append(runErr, fmt.Errorf("flushing backup: %w", err))
		}
		log.WithFields(logrus.Fields{"path": o.backupPath, "records": opts.Backup.Count()}).Info("backup written")
	}

	printReport(cmd.OutOrStdout(), report)

	var merr *multierror.Error
	if errors.As(runErr, &merr) {
		for _, e := range merr.Errors {
			log.WithError(e).Error("migration error")
		}
		return fmt.Errorf("%d error(s) during migration", len(merr.Errors))
	}
	return runErr
}

func newRestoreCommand(g *globalOptions) *cobra.Command {
	var dbPath, backupPath string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "write the stored values and blind indexes from a migration backup back into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(backupPath)
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := migration.ReadBackup(f)
			if err != nil {
				return err
			}

			db, err := openSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := migration.Restore(cmd.Context(), db, records, fieldcrypt.PlaceholderQuestion)
			if err != nil {
				return err
			}
			g.logger().WithField("records", n).Info("backup restored")
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d row(s)\n", n)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&dbPath, "db", "", "path to the SQLite database")
	fs.StringVar(&backupPath, "backup", "", "backup file written by migrate")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("backup")
	return cmd
}

func openSQLite(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func printReport(w io.Writer, r *migration.Report) {
	if r == nil {
		return
	}
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	mode := "applied"
	if r.DryRun {
		mode = "dry run, rolled back"
	}
	fmt.Fprintf(w, "run %s (%s)\n", r.RunID, mode)
	for _, name := range names {
		t := r.Tables[name]
		fmt.Fprintf(w, "  %-16s rows=%d migrated=%d failed=%d\n", name, t.Rows, t.Migrated, t.Failed)
	}
	total := r.Total()
	fmt.Fprintf(w, "  %-16s rows=%d migrated=%d failed=%d\n", "total", total.Rows, total.Migrated, total.Failed)
}
