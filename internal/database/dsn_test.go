package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerDialectDSN(t *testing.T) {
	tests := []struct {
		name    string
		dialect serverDialect
		cfg     Config
		want    string
		parts   []string
	}{
		{
			name:    "postgres defaults",
			dialect: postgresDialect,
			cfg:     Config{User: "estatedir", Name: "estatedir"},
			want:    "host=localhost port=5432 user=estatedir dbname=estatedir sslmode=disable",
		},
		{
			name:    "postgres overrides",
			dialect: postgresDialect,
			cfg: Config{
				User: "agent", Name: "listings", Host: "db.example.com", Port: 6543, Password: "pass",
				Options: map[string]string{"sslmode": "require", "search_path": "public"},
			},
			parts: []string{"host=db.example.com", "port=6543", "password=pass", "sslmode=require", "search_path=public"},
		},
		{
			name:    "mysql defaults",
			dialect: mysqlDialect,
			cfg:     Config{User: "estatedir", Name: "estatedir"},
			want:    "estatedir@tcp(127.0.0.1:3306)/estatedir?charset=utf8mb4&loc=Local&parseTime=True",
		},
		{
			name:    "mysql overrides",
			dialect: mysqlDialect,
			cfg: Config{
				User: "agent", Password: "secret", Name: "listings", Host: "db.example.com", Port: 3307,
				Options: map[string]string{"tls": "skip-verify"},
			},
			parts: []string{"agent:secret@tcp(db.example.com:3307)/listings?", "parseTime=True", "tls=skip-verify"},
		},
		{
			name:    "explicit dsn wins",
			dialect: mysqlDialect,
			cfg:     Config{DSN: "custom"},
			want:    "custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := tt.dialect.dsn(tt.cfg)
			require.NoError(t, err)
			if tt.want != "" {
				require.Equal(t, tt.want, dsn)
			}
			for _, part := range tt.parts {
				require.Contains(t, dsn, part)
			}
		})
	}
}

func TestServerDialectRequiresUserAndName(t *testing.T) {
	for _, d := range []serverDialect{postgresDialect, mysqlDialect} {
		_, err := d.dsn(Config{Host: "localhost"})
		require.ErrorContains(t, err, d.name+" configuration requires")
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN(Config{})
	require.NoError(t, err)
	require.True(t, isMemoryDSN(dsn))

	path := filepath.Join(t.TempDir(), "nested", "estatedir.sqlite")
	dsn, err = sqliteDSN(Config{Path: path})
	require.NoError(t, err)
	require.False(t, isMemoryDSN(dsn))
	require.True(t, strings.HasPrefix(dsn, "file:"+filepath.ToSlash(path)+"?"))
	require.Contains(t, dsn, "_busy_timeout=5000")
	require.Contains(t, dsn, "_journal_mode=WAL")
	require.DirExists(t, filepath.Dir(path))
}

func TestIsMemoryDSN(t *testing.T) {
	require.True(t, isMemoryDSN("file::memory:?cache=shared"))
	require.True(t, isMemoryDSN("file:test?mode=memory&cache=shared"))
	require.False(t, isMemoryDSN("file:data/estatedir.sqlite?_journal_mode=WAL"))
}
