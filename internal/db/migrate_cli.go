package db

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
	"strings"
)

// RunMigrateCommand handles the 'migrate' subcommand. in is read for the
// confirmation prompt of 'force'; messages go to out.
func RunMigrateCommand(args []string, dbPath string, in io.Reader, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS := MigrationsFS()

	// Open without running migrations; they are what this command manages.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return handleMigrateUp(database, migrationsFS, out)
	case "down":
		return handleMigrateDown(database, migrationsFS, out)
	case "status":
		return handleMigrateStatus(database, migrationsFS, out)
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: crossing migrate version <version_number>")
		}
		return handleMigrateVersion(database, migrationsFS, args[1])
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: crossing migrate force <version_number>")
		}
		return handleMigrateForce(database, migrationsFS, args[1], in, out)
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func handleMigrateUp(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ All migrations applied. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateDown(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migration rolled back. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(out, "Latest version: %d\n", status.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", status.SchemaMigrationsExists)

	if status.NeedsMigration() {
		fmt.Fprintln(out, "\nPending migrations. Run: crossing migrate up")
	}
	if status.Dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, fix it, then run:")
		fmt.Fprintln(out, "  crossing migrate force <version>")
	}
	return nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, versionStr string) error {
	target, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version number: %s", versionStr)
	}

	log.Printf("Migrating to version %d...", target)
	if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
		return err
	}
	log.Printf("✓ Migrated to version %d successfully", target)
	return nil
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, versionStr string, in io.Reader, out io.Writer) error {
	forceVersion, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("invalid version number: %s", versionStr)
	}

	fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(out, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(response)
	if response != "y" && response != "Y" {
		fmt.Fprintln(out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(migrationsFS, forceVersion); err != nil {
		return err
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
	return nil
}

// PrintMigrateHelp prints usage of the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: crossing migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show current and latest schema version
  version <N>        Migrate up or down to version N
  force <N>          Set the version without running migrations (recovery only)
  help               Show this help
`)
}
