package repository

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.RepositoryConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  domain.RepositoryConfig{},
			want: "host=localhost port=5432 dbname=harrier sslmode=disable",
		},
		{
			name: "full",
			cfg: domain.RepositoryConfig{
				PostgresHost:     "db.internal",
				PostgresPort:     6543,
				PostgresUser:     "harrier",
				PostgresPassword: "s3cret",
				PostgresDB:       "labels",
				PostgresSSLMode:  "require",
			},
			want: "host=db.internal port=6543 user=harrier password=s3cret dbname=labels sslmode=require",
		},
		{
			name: "quoted password",
			cfg:  domain.RepositoryConfig{PostgresUser: "u", PostgresPassword: `it's a pass\word`},
			want: `host=localhost port=5432 user=u password='it\'s a pass\\word' dbname=harrier sslmode=disable`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgresDSN(tt.cfg); got != tt.want {
				t.Errorf("postgresDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN(domain.RepositoryConfig{}); !strings.HasPrefix(got, "file:./harrier.db?") {
		t.Errorf("unexpected default DSN %q", got)
	}
	if got := sqliteDSN(domain.RepositoryConfig{SQLitePath: ":memory:"}); got != ":memory:" {
		t.Errorf("unexpected in-memory DSN %q", got)
	}
}

func TestSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "labels.db")

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:", MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveLabel(ctx, &domain.Label{TxID: "TX1", Amount: 10, Type: domain.TypeCreditCard, Location: domain.LocationParis}); err != nil {
		t.Fatalf("SaveLabel failed: %v", err)
	}
	n, err := repo.CountLabels(ctx)
	if err != nil {
		t.Fatalf("CountLabels failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 label, got %d", n)
	}
}
