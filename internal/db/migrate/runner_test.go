package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"call-signaling/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	if err := Run("", "up"); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, dir := range []string{"", "UP", "sideways"} {
		err := Run("postgres://localhost/test", dir)
		if err == nil || !strings.Contains(err.Error(), "direction") {
			t.Fatalf("direction %q: expected direction error, got %v", dir, err)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(db.MigrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, f := range files {
		name := strings.TrimPrefix(f, "migrations/")
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for v := range ups {
		if !downs[v] {
			t.Fatalf("migration %s has no down file", v)
		}
	}
}
