package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/importer"
	"github.com/opensource-finance/harrier/internal/service"
)

// createTestServer creates a server over an in-memory service.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := *domain.DefaultConfig()
	cfg.Classifier.Trees = 10
	cfg.Generator.MaxInterval = time.Millisecond

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	svc, err := service.New(cfg, service.Deps{Cache: cache.NewLRUCache(100), EventBus: eventBus})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	t.Cleanup(cancel)

	return NewServer(cfg.Server, svc, "test-v1")
}

func do(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

const importBody = `id,amount,type,fraudProbability,location
a-1,9000,Wire Transfer,0.9,Dubai
a-2,20,Credit Card,0.1,Sydney
a-3,700,Cash Deposit,0.75,Paris
bad,abc,Credit Card,0.1,Paris
`

func seed(t *testing.T, s *Server) {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/transactions/import", []byte(importBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("import failed: %d %s", rr.Code, rr.Body.String())
	}
	var report importer.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Accepted != 3 || len(report.Rejected) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %q", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %q", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "harrier_http_requests_total") {
			t.Error("expected harrier request metrics")
		}
	})

	t.Run("TraceHeaders", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace ID header")
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server := createTestServer(t)
	seed(t, server)

	t.Run("ListAll", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp TransactionListResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 || resp.Transactions[0].ID != "a-1" {
			t.Errorf("unexpected list: %+v", resp)
		}
	})

	t.Run("FilterByTypeAndThreshold", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions?type=wire_transfer&threshold=0.5", nil)
		var resp TransactionListResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Transactions[0].ID != "a-1" {
			t.Errorf("unexpected filtered list: %+v", resp)
		}

		rr = do(t, server, http.MethodGet, "/transactions?type=All&threshold=1.01", nil)
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 0 {
			t.Errorf("expected empty result above 1.0, got %d", resp.Count)
		}
	})

	t.Run("FilterByDate", func(t *testing.T) {
		today := time.Now().UTC().Format(dateLayout)
		rr := do(t, server, http.MethodGet, "/transactions?start="+today+"&end="+today, nil)
		var resp TransactionListResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 transactions today, got %d", resp.Count)
		}

		rr = do(t, server, http.MethodGet, "/transactions?start=2001-01-01&end=2001-01-02", nil)
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 0 {
			t.Errorf("expected no transactions in 2001, got %d", resp.Count)
		}
	})

	t.Run("BadFilter", func(t *testing.T) {
		for _, q := range []string{"start=yesterday", "type=crypto", "threshold=high"} {
			rr := do(t, server, http.MethodGet, "/transactions?"+q, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", q, rr.Code)
			}
		}
	})

	t.Run("Summary", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions/summary", nil)
		var summary catalog.Summary
		json.Unmarshal(rr.Body.Bytes(), &summary)
		if summary.Total != 3 || summary.Fraudulent != 2 || summary.Legitimate != 1 {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("GetTransaction", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions/a-2", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if tx.Location != domain.LocationSydney {
			t.Errorf("expected Sydney, got %s", tx.Location)
		}

		rr = do(t, server, http.MethodGet, "/transactions/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetAssessment", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions/a-3/assessment", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var a domain.Assessment
		json.Unmarshal(rr.Body.Bytes(), &a)
		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT, got %s", a.Status)
		}
	})

	t.Run("Label", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/transactions/a-1/label", []byte(`{"fraudulent":true}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var label struct {
			TxID              string `json:"txId"`
			Fraudulent        bool   `json:"fraudulent"`
			ClassifierApplied bool   `json:"classifierApplied"`
			ClassifierVersion int64  `json:"classifierVersion"`
		}
		json.Unmarshal(rr.Body.Bytes(), &label)
		if label.TxID != "a-1" || !label.Fraudulent {
			t.Errorf("unexpected label: %+v", label)
		}
		if !label.ClassifierApplied || label.ClassifierVersion != 1 {
			t.Errorf("expected label applied at version 1, got %+v", label)
		}

		rr = do(t, server, http.MethodPost, "/transactions/a-1/label", []byte(`{}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without fraudulent, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodPost, "/transactions/nope/label", []byte(`{"fraudulent":false}`))
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Generate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/transactions/generate", nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}
		var resp GenerateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Assessment == nil || resp.Assessment.TxID != resp.Transaction.ID {
			t.Errorf("unexpected generate response: %+v", resp)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/transactions", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]int
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["removed"] != 4 {
			t.Errorf("expected 4 removed, got %d", resp["removed"])
		}
	})
}

func TestAlertsEndpoint(t *testing.T) {
	server := createTestServer(t)
	seed(t, server)

	var resp AlertListResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := do(t, server, http.MethodGet, "/alerts", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp = AlertListResponse{}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode alerts: %v", err)
		}
		if resp.Count >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if resp.Count != 2 {
		t.Fatalf("expected 2 alerts, got %d", resp.Count)
	}
	if resp.Alerts[0].Transaction.ID != "a-3" || resp.Alerts[1].Transaction.ID != "a-1" {
		t.Errorf("expected newest first, got %s, %s", resp.Alerts[0].Transaction.ID, resp.Alerts[1].Transaction.ID)
	}
	if resp.Alerts[0].Assessment == nil || resp.Alerts[0].Assessment.Status != domain.StatusAlert {
		t.Errorf("expected ALRT assessment, got %+v", resp.Alerts[0].Assessment)
	}

	t.Run("Limit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/alerts?limit=1", nil)
		var limited AlertListResponse
		json.Unmarshal(rr.Body.Bytes(), &limited)
		if limited.Count != 1 || limited.Alerts[0].Transaction.ID != "a-3" {
			t.Errorf("expected only a-3, got %+v", limited)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/alerts?limit=abc", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Valid", func(t *testing.T) {
		body, _ := json.Marshal(ScoreRequest{Amount: 9000, Type: "WireTransfer", Location: "Dubai"})
		rr := do(t, server, http.MethodPost, "/score", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res service.ScoreResult
		json.Unmarshal(rr.Body.Bytes(), &res)
		if res.RuleProbability < 0.899 || res.RuleProbability > 0.901 {
			t.Errorf("expected rule probability 0.9, got %.3f", res.RuleProbability)
		}
		if !res.Fraudulent {
			t.Error("expected fraudulent")
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := []string{
			`not json`,
			`{"amount":10,"type":"Crypto","location":"Paris"}`,
			`{"amount":10,"type":"All","location":"Paris"}`,
			`{"amount":-1,"type":"Credit Card","location":"Paris"}`,
			`{"amount":10,"type":"Credit Card"}`,
		}
		for _, c := range cases {
			rr := do(t, server, http.MethodPost, "/score", []byte(c))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", c, rr.Code)
			}
		}
	})
}

func TestSimulationEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/simulation/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var status service.Status
	json.Unmarshal(rr.Body.Bytes(), &status)
	if !status.Running {
		t.Error("expected simulation running")
	}

	rr = do(t, server, http.MethodPost, "/simulation/start", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPut, "/simulation/bias", []byte(`{"value":0.4}`))
	var bias map[string]float64
	json.Unmarshal(rr.Body.Bytes(), &bias)
	if bias["fraudBias"] != 0.4 {
		t.Errorf("expected bias 0.4, got %v", bias)
	}

	rr = do(t, server, http.MethodPut, "/simulation/max-amount", []byte(`{"value":-3}`))
	var maxAmount map[string]float64
	json.Unmarshal(rr.Body.Bytes(), &maxAmount)
	if maxAmount["maxAmount"] != 0 {
		t.Errorf("expected max amount clamped to 0, got %v", maxAmount)
	}

	rr = do(t, server, http.MethodPut, "/simulation/bias", []byte(`{}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without value, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/simulation/stop", nil)
	json.Unmarshal(rr.Body.Bytes(), &status)
	if status.Running {
		t.Error("expected simulation stopped")
	}

	rr = do(t, server, http.MethodGet, "/simulation", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
