package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/generator"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/worker"
)

// dateLayout is the format of the start and end query parameters.
const dateLayout = "2006-01-02"

// maxImportBytes bounds the CSV body accepted by POST /transactions/import.
const maxImportBytes = 32 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, version string) *Handler {
	return &Handler{
		svc:     svc,
		version: version,
	}
}

// TransactionListResponse is the response for GET /transactions.
type TransactionListResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
}

// AlertListResponse is the response for GET /alerts.
type AlertListResponse struct {
	Alerts []worker.ScoredEvent `json:"alerts"`
	Count  int                  `json:"count"`
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	ID       string  `json:"id,omitempty"`
	Amount   float64 `json:"amount"`
	Type     string  `json:"type"`
	Location string  `json:"location"`
}

// LabelRequest is the request body for POST /transactions/{id}/label.
type LabelRequest struct {
	Fraudulent *bool `json:"fraudulent"`
}

// ValueRequest is the request body for the simulation setting endpoints.
type ValueRequest struct {
	Value *float64 `json:"value"`
}

// GenerateResponse is the response for POST /transactions/generate.
type GenerateResponse struct {
	Transaction domain.Transaction `json:"transaction"`
	Assessment  *domain.Assessment `json:"assessment"`
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, state := range h.svc.Ready(r.Context()) {
		if state != "healthy" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := h.svc.Ready(r.Context())
	code := http.StatusOK
	for _, state := range checks {
		if state != "healthy" {
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"ready":  code == http.StatusOK,
		"checks": checks,
	})
}

// ListTransactions handles GET /transactions requests.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs := h.svc.Query(filter)
	writeJSON(w, http.StatusOK, TransactionListResponse{
		Transactions: txs,
		Count:        len(txs),
	})
}

// Summary handles GET /transactions/summary requests.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Summary(filter))
}

// Alerts handles GET /alerts requests. The optional limit parameter caps
// the number of alerts returned, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	alerts := h.svc.Alerts(limit)
	writeJSON(w, http.StatusOK, AlertListResponse{Alerts: alerts, Count: len(alerts)})
}

// ClearTransactions handles DELETE /transactions requests.
func (h *Handler) ClearTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"removed": h.svc.Clear(),
	})
}

// GetTransaction handles GET /transactions/{id} requests.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.svc.Transaction(id)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetAssessment handles GET /transactions/{id}/assessment requests.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.svc.Assessment(r.Context(), id)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Label handles POST /transactions/{id}/label requests.
func (h *Handler) Label(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Fraudulent == nil {
		writeError(w, http.StatusBadRequest, "fraudulent is required")
		return
	}

	res, err := h.svc.Label(r.Context(), id, *req.Fraudulent)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Generate handles POST /transactions/generate requests.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	tx, a, err := h.svc.GenerateOnce(r.Context())
	if err != nil {
		slog.Error("failed to generate transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate transaction")
		return
	}
	writeJSON(w, http.StatusCreated, GenerateResponse{Transaction: tx, Assessment: a})
}

// Import handles POST /transactions/import requests. The body holds
// id,amount,type,fraudProbability[,location] records.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	report, err := h.svc.Import(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "import body too large")
			return
		}
		slog.Error("import failed", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("import failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	typ, err := domain.ParseTransactionType(req.Type)
	if err != nil || typ == domain.TypeAll {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown transaction type %q", req.Type))
		return
	}
	if req.Amount < 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		writeError(w, http.StatusBadRequest, "amount must be a finite non-negative number")
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}

	id := req.ID
	if id == "" {
		id = "adhoc-" + uuid.New().String()
	}

	res := h.svc.Score(domain.Transaction{
		ID:        id,
		Amount:    req.Amount,
		Type:      typ,
		Location:  domain.Location(strings.TrimSpace(req.Location)),
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, res)
}

// SimulationStatus handles GET /simulation requests.
func (h *Handler) SimulationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SimulationStatus())
}

// StartSimulation handles POST /simulation/start requests.
func (h *Handler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartSimulation(); err != nil {
		if errors.Is(err, generator.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.SimulationStatus())
}

// StopSimulation handles POST /simulation/stop requests.
func (h *Handler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	h.svc.StopSimulation()
	writeJSON(w, http.StatusOK, h.svc.SimulationStatus())
}

// SetFraudBias handles PUT /simulation/bias requests.
func (h *Handler) SetFraudBias(w http.ResponseWriter, r *http.Request) {
	v, ok := decodeValue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"fraudBias": h.svc.SetFraudBias(v)})
}

// SetMaxAmount handles PUT /simulation/max-amount requests.
func (h *Handler) SetMaxAmount(w http.ResponseWriter, r *http.Request) {
	v, ok := decodeValue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"maxAmount": h.svc.SetMaxAmount(v)})
}

func decodeValue(w http.ResponseWriter, r *http.Request) (float64, bool) {
	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return 0, false
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return 0, false
	}
	return *req.Value, true
}

// parseFilter reads start, end, type and threshold query parameters.
func parseFilter(r *http.Request) (catalog.Filter, error) {
	q := r.URL.Query()
	var f catalog.Filter

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", v)
		}
		f.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", v)
		}
		f.End = &t
	}
	if v := q.Get("type"); v != "" {
		typ, err := domain.ParseTransactionType(v)
		if err != nil {
			return f, fmt.Errorf("unknown transaction type %q", v)
		}
		f.Type = typ
	}
	if v := q.Get("threshold"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(p) {
			return f, fmt.Errorf("invalid threshold %q", v)
		}
		f.MinProbability = p
	}
	return f, nil
}

func writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("transaction %s not found", id))
		return
	}
	slog.Error("request failed", "tx_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
