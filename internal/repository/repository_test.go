package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetLabel", func(t *testing.T) {
		label := &domain.Label{
			TxID:       "TX1-1",
			Amount:     9000,
			Type:       domain.TypeWireTransfer,
			Location:   domain.LocationDubai,
			Fraudulent: true,
			LabeledAt:  base,
		}

		if err := repo.SaveLabel(ctx, label); err != nil {
			t.Fatalf("SaveLabel failed: %v", err)
		}
		if label.ID == "" {
			t.Error("expected generated label ID")
		}

		got, err := repo.GetLabel(ctx, "TX1-1")
		if err != nil {
			t.Fatalf("GetLabel failed: %v", err)
		}
		if got.ID != label.ID {
			t.Errorf("expected ID %s, got %s", label.ID, got.ID)
		}
		if got.Amount != 9000 {
			t.Errorf("expected Amount 9000, got %.2f", got.Amount)
		}
		if got.Type != domain.TypeWireTransfer || got.Location != domain.LocationDubai {
			t.Errorf("unexpected features: %s/%s", got.Type, got.Location)
		}
		if !got.Fraudulent {
			t.Error("expected fraudulent label")
		}
		if !got.LabeledAt.Equal(base) {
			t.Errorf("expected LabeledAt %v, got %v", base, got.LabeledAt)
		}
	})

	t.Run("RelabelReturnsLatest", func(t *testing.T) {
		label := &domain.Label{
			TxID:      "TX1-1",
			Amount:    9000,
			Type:      domain.TypeWireTransfer,
			Location:  domain.LocationDubai,
			LabeledAt: base.Add(time.Minute),
		}
		if err := repo.SaveLabel(ctx, label); err != nil {
			t.Fatalf("SaveLabel failed: %v", err)
		}

		got, err := repo.GetLabel(ctx, "TX1-1")
		if err != nil {
			t.Fatalf("GetLabel failed: %v", err)
		}
		if got.Fraudulent {
			t.Error("expected the newer legitimate label")
		}
	})

	t.Run("ListLabels", func(t *testing.T) {
		label := &domain.Label{
			TxID:      "TX2-1",
			Amount:    50,
			Type:      domain.TypeCashDeposit,
			Location:  domain.LocationSydney,
			LabeledAt: base.Add(2 * time.Minute),
		}
		if err := repo.SaveLabel(ctx, label); err != nil {
			t.Fatalf("SaveLabel failed: %v", err)
		}

		all, err := repo.ListLabels(ctx, 0)
		if err != nil {
			t.Fatalf("ListLabels failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 labels, got %d", len(all))
		}
		if !all[0].Fraudulent || all[2].TxID != "TX2-1" {
			t.Error("expected labels oldest first")
		}

		limited, err := repo.ListLabels(ctx, 2)
		if err != nil {
			t.Fatalf("ListLabels failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 labels, got %d", len(limited))
		}
	})

	t.Run("CountLabels", func(t *testing.T) {
		n, err := repo.CountLabels(ctx)
		if err != nil {
			t.Fatalf("CountLabels failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 labels, got %d", n)
		}
	})

	t.Run("RequiresTxID", func(t *testing.T) {
		err := repo.SaveLabel(ctx, &domain.Label{Amount: 1})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetLabel(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestListLabelsEmpty(t *testing.T) {
	repo := newTestRepo(t)

	labels, err := repo.ListLabels(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListLabels failed: %v", err)
	}
	if labels == nil || len(labels) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", labels)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}
}
