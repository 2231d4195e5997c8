package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	defaultSQLitePath   = "./harrier.db"
	defaultPostgresHost = "localhost"
	defaultPostgresPort = 5432
	defaultPostgresDB   = "harrier"

	pingTimeout = 5 * time.Second
)

// driver knows how to reach one database/sql driver.
type driver struct {
	name    string
	prepare func(cfg domain.RepositoryConfig) error
	dsn     func(cfg domain.RepositoryConfig) string
}

var drivers = map[string]driver{
	"sqlite":   {name: "sqlite", prepare: prepareSQLite, dsn: sqliteDSN},
	"postgres": {name: "postgres", dsn: postgresDSN},
}

// open connects to the configured database and verifies the connection.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	d, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if d.prepare != nil {
		if err := d.prepare(cfg); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.name, d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}

	// Every connection to an in-memory SQLite database is a separate database.
	if cfg.Driver == "sqlite" && inMemory(cfg.SQLitePath) {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}
	return db, nil
}

func sqlitePath(cfg domain.RepositoryConfig) string {
	if cfg.SQLitePath == "" {
		return defaultSQLitePath
	}
	return cfg.SQLitePath
}

func inMemory(path string) bool {
	return path == ":memory:"
}

func prepareSQLite(cfg domain.RepositoryConfig) error {
	path := sqlitePath(cfg)
	if inMemory(path) {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return nil
}

// sqliteDSN uses the pure Go modernc driver with WAL and a busy timeout.
func sqliteDSN(cfg domain.RepositoryConfig) string {
	path := sqlitePath(cfg)
	if inMemory(path) {
		return path
	}
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"
}

// postgresDSN builds a lib/pq key/value connection string.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = defaultPostgresPort
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = defaultPostgresDB
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + pqQuote(host),
		fmt.Sprintf("port=%d", port),
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+pqQuote(cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+pqQuote(cfg.PostgresPassword))
	}
	parts = append(parts, "dbname="+pqQuote(dbname), "sslmode="+pqQuote(sslmode))
	return strings.Join(parts, " ")
}

// pqQuote quotes a value when it is empty or contains spaces, quotes or
// backslashes.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
