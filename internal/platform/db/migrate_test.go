package db

import (
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/agriledger/migrations"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/agri?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/agri?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/agri", migrateURL("postgresql://localhost/agri"))
	require.Equal(t, "pgx5://localhost/agri", migrateURL("pgx5://localhost/agri"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	require.Equal(t, ups, downs)

	sort.Strings(names)
	body, err := fs.ReadFile(migrations.FS, names[len(names)-1])
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(body)))
}
