// Package importer loads transactions from delimited text records of the
// form id,amount,type,fraudProbability[,location].
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Appender stores accepted transactions. Duplicate ids must be rejected.
type Appender interface {
	Append(tx domain.Transaction) error
}

// Rejection describes one record that was not imported.
type Rejection struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarizes an import.
type Report struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Importer parses records and appends them to a catalog.
type Importer struct {
	dst Appender

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New creates an importer writing to dst.
func New(dst Appender) *Importer {
	return &Importer{
		dst: dst,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// ImportFile opens path and imports its records.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	report, err := im.Import(ctx, f)
	if err != nil {
		return report, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return report, nil
}

// Import reads records from r. Bad records are collected in the report and
// the import continues; only read errors and cancellation abort it.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	report := &Report{Rejected: []Rejection{}}
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				im.reject(report, parseErr.Line, parseErr.Err.Error())
				continue
			}
			return report, fmt.Errorf("failed to read record: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		tx, err := im.parse(record)
		if err != nil {
			im.reject(report, line, err.Error())
			continue
		}
		if err := im.dst.Append(tx); err != nil {
			im.reject(report, line, err.Error())
			continue
		}
		report.Accepted++
		metrics.ImportRecords.WithLabelValues("accepted").Inc()
	}

	slog.Info("import completed",
		"accepted", report.Accepted,
		"rejected", len(report.Rejected),
	)
	return report, nil
}

func (im *Importer) reject(report *Report, line int, reason string) {
	report.Rejected = append(report.Rejected, Rejection{Line: line, Reason: reason})
	metrics.ImportRecords.WithLabelValues("rejected").Inc()
	slog.Warn("import record rejected", "line", line, "reason", reason)
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "id")
}

func (im *Importer) parse(record []string) (domain.Transaction, error) {
	if len(record) != 4 && len(record) != 5 {
		return domain.Transaction{}, fmt.Errorf("expected 4 or 5 fields, got %d", len(record))
	}

	id := strings.TrimSpace(record[0])
	if id == "" {
		return domain.Transaction{}, errors.New("id is required")
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid amount %q", record[1])
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return domain.Transaction{}, fmt.Errorf("amount out of range: %s", record[1])
	}

	typ, err := domain.ParseTransactionType(record[2])
	if err != nil || typ == domain.TypeAll {
		return domain.Transaction{}, fmt.Errorf("unknown transaction type %q", record[2])
	}

	prob, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid fraud probability %q", record[3])
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return domain.Transaction{}, fmt.Errorf("fraud probability out of range: %s", record[3])
	}

	var location domain.Location
	if len(record) == 5 && strings.TrimSpace(record[4]) != "" {
		location = domain.Location(strings.TrimSpace(record[4]))
	} else {
		location = im.randomLocation()
	}

	return domain.Transaction{
		ID:               id,
		Amount:           amount,
		Type:             typ,
		Timestamp:        im.now().UTC(),
		FraudProbability: prob,
		Location:         location,
	}, nil
}

func (im *Importer) randomLocation() domain.Location {
	im.mu.Lock()
	defer im.mu.Unlock()
	locations := domain.Locations()
	return locations[im.rng.Intn(len(locations))]
}
