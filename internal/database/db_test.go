package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	require.Equal(t,
		"app@tcp(db:3306)/club?charset=utf8mb4&parseTime=true&loc=UTC",
		DSN("app", "", "db", "3306", "club"))
	require.Equal(t,
		"app:secret@tcp(db:3306)/club?charset=utf8mb4&parseTime=true&loc=UTC&multiStatements=true",
		DSN("app", "secret", "db", "3306", "club", MigrationParams))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))

	body, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "uq_registrations_active (event_id, user_id, active_marker)")

	body, err = fs.ReadFile(migrationsFS, "migrations/000002_attendance.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "is_attended")
}
