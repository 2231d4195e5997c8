// Package repository provides label persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && !(cfg.Driver == "sqlite" && inMemory(cfg.SQLitePath)) {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveLabel stores a label. Missing ID and LabeledAt are filled in.
func (r *SQLRepository) SaveLabel(ctx context.Context, label *domain.Label) error {
	if label == nil || label.TxID == "" {
		return fmt.Errorf("%w: label txId is required", ErrInvalidInput)
	}
	if label.ID == "" {
		label.ID = uuid.New().String()
	}
	if label.LabeledAt.IsZero() {
		label.LabeledAt = time.Now().UTC()
	}

	fraudulent := 0
	if label.Fraudulent {
		fraudulent = 1
	}

	query := `
		INSERT INTO labels (id, tx_id, amount, type, location, fraudulent, labeled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		label.ID, label.TxID, label.Amount,
		string(label.Type), string(label.Location),
		fraudulent, label.LabeledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save label for %s: %w", label.TxID, err)
	}
	return nil
}

// GetLabel returns the most recent label for a transaction.
func (r *SQLRepository) GetLabel(ctx context.Context, txID string) (*domain.Label, error) {
	query := `
		SELECT id, tx_id, amount, type, location, fraudulent, labeled_at
		FROM labels
		WHERE tx_id = ?
		ORDER BY labeled_at DESC
		LIMIT 1
	`

	label, err := scanLabel(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return label, nil
}

// ListLabels returns up to limit labels, oldest first. limit <= 0 means all.
func (r *SQLRepository) ListLabels(ctx context.Context, limit int) ([]*domain.Label, error) {
	query := `
		SELECT id, tx_id, amount, type, location, fraudulent, labeled_at
		FROM labels
		ORDER BY labeled_at ASC, id ASC
	`
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	labels := make([]*domain.Label, 0)
	for rows.Next() {
		label, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}

// CountLabels returns the number of stored labels.
func (r *SQLRepository) CountLabels(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM labels").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLabel(row rowScanner) (*domain.Label, error) {
	var label domain.Label
	var typ, location string
	var fraudulent int

	if err := row.Scan(
		&label.ID, &label.TxID, &label.Amount,
		&typ, &location, &fraudulent, &label.LabeledAt,
	); err != nil {
		return nil, err
	}

	label.Type = domain.TransactionType(typ)
	label.Location = domain.Location(location)
	label.Fraudulent = fraudulent == 1
	return &label, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
