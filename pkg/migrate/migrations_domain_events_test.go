package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dcmlabs/dvmm-backend/pkg/migrate"
)

func TestDomainEventsMigrationIsAppendOnly(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_domain_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no domain_events migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS domain_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_domain_events_stream_version",
		"ON domain_events (stream_id, version)",
		"CHECK (version >= 1)",
		"BEFORE UPDATE OR DELETE ON domain_events",
		"domain_events is append-only",
		"DROP TABLE IF EXISTS domain_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestProjectionsMigrationContainsGuards(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_projections.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no projections migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_resource_projections_request",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_timeline_entries_event",
		"CREATE TABLE IF NOT EXISTS provisioning_progress",
		"DROP TABLE IF EXISTS request_projections",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir invalid: %v", err)
	}
}
