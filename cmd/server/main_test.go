package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls   []string
	version uint
	err     error
}

func (f *fakeMigrator) Up() error   { f.calls = append(f.calls, "up"); return f.err }
func (f *fakeMigrator) Down() error { f.calls = append(f.calls, "down"); return f.err }
func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, false, f.err
}
func (f *fakeMigrator) Close() error { f.calls = append(f.calls, "close"); return nil }

func useFakeMigrator(t *testing.T, f *fakeMigrator) *string {
	t.Helper()
	var gotDSN string
	orig := newMigrator
	newMigrator = func(dsn string) (migrator, error) {
		gotDSN = dsn
		return f, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotDSN
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCmd(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	const dsn = "postgres://plausch@localhost:5432/plausch"

	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantOut   string
	}{
		{"defaults to up", []string{"migrate", "--database.dsn", dsn}, []string{"up", "close"}, "Migrations completed successfully"},
		{"down", []string{"migrate", "down", "--database.dsn", dsn}, []string{"down", "close"}, "Rollback completed successfully"},
		{"version", []string{"migrate", "version", "--database.dsn", dsn}, []string{"version", "close"}, "version 1 (dirty: false)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeMigrator{version: 1}
			gotDSN := useFakeMigrator(t, fake)

			out, err := runCmd(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, fake.calls)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, dsn, *gotDSN)
		})
	}
}

func TestMigrateCmd_Errors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	t.Run("missing dsn", func(t *testing.T) {
		useFakeMigrator(t, &fakeMigrator{})
		_, err := runCmd(t, "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn")
	})

	t.Run("unknown action", func(t *testing.T) {
		useFakeMigrator(t, &fakeMigrator{})
		_, err := runCmd(t, "migrate", "sideways", "--database.dsn", "postgres://x")
		assert.Error(t, err)
	})

	t.Run("migration failure", func(t *testing.T) {
		fake := &fakeMigrator{err: errors.New("dirty database version 1")}
		useFakeMigrator(t, fake)
		_, err := runCmd(t, "migrate", "up", "--database.dsn", "postgres://x")
		require.Error(t, err)
		assert.Equal(t, []string{"up", "close"}, fake.calls)
	})
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := runCmd(t, "serve", "--log.level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens.secret")
}
