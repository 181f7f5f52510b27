package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqliteBusyTimeoutMs lets the admin CLI and the server share one database file.
const sqliteBusyTimeoutMs = 5000

// serverDialect fills the gaps of a Config for a networked database and renders its DSN.
type serverDialect struct {
	name    string
	host    string
	port    int
	options map[string]string
	render  func(cfg Config, host string, port int, options []string) string
	open    func(dsn string) gorm.Dialector
}

var (
	postgresDialect = serverDialect{
		name:    DriverPostgres,
		host:    "localhost",
		port:    5432,
		options: map[string]string{"sslmode": "disable"},
		render: func(cfg Config, host string, port int, options []string) string {
			parts := []string{
				"host=" + host,
				fmt.Sprintf("port=%d", port),
				"user=" + cfg.User,
				"dbname=" + cfg.Name,
			}
			if cfg.Password != "" {
				parts = append(parts, "password="+cfg.Password)
			}
			return strings.Join(append(parts, options...), " ")
		},
		open: postgres.Open,
	}

	mysqlDialect = serverDialect{
		name: DriverMySQL,
		host: "127.0.0.1",
		port: 3306,
		// parseTime is required for the time.Time columns of sessions and pending actions.
		options: map[string]string{"charset": "utf8mb4", "parseTime": "True", "loc": "Local"},
		render: func(cfg Config, host string, port int, options []string) string {
			user := cfg.User
			if cfg.Password != "" {
				user += ":" + cfg.Password
			}
			return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, host, port, cfg.Name, strings.Join(options, "&"))
		},
		open: mysql.Open,
	}
)

func (d serverDialect) dsn(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("%s configuration requires user and database name", d.name)
	}

	host := cfg.Host
	if host == "" {
		host = d.host
	}
	port := cfg.Port
	if port == 0 {
		port = d.port
	}

	merged := make(map[string]string, len(d.options)+len(cfg.Options))
	for key, value := range d.options {
		merged[key] = value
	}
	for key, value := range cfg.Options {
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	options := make([]string, 0, len(keys))
	for _, key := range keys {
		options = append(options, key+"="+merged[key])
	}

	return d.render(cfg, host, port, options), nil
}

// dialectorFor resolves the gorm dialector for cfg. memory reports an in-process SQLite
// database, which must stay on a single connection to survive.
func dialectorFor(cfg Config) (dialector gorm.Dialector, memory bool, err error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite:
		dsn, err := sqliteDSN(cfg)
		if err != nil {
			return nil, false, err
		}
		return sqlite.Open(dsn), isMemoryDSN(dsn), nil
	case DriverPostgres, "postgresql":
		dsn, err := postgresDialect.dsn(cfg)
		if err != nil {
			return nil, false, err
		}
		return postgresDialect.open(dsn), false, nil
	case DriverMySQL:
		dsn, err := mysqlDialect.dsn(cfg)
		if err != nil {
			return nil, false, err
		}
		return mysqlDialect.open(dsn), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1", nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	query := url.Values{}
	query.Set("_foreign_keys", "1")
	query.Set("_journal_mode", "WAL")
	query.Set("_busy_timeout", fmt.Sprint(sqliteBusyTimeoutMs))
	return "file:" + filepath.ToSlash(path) + "?" + query.Encode(), nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
