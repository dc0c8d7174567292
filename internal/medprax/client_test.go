package medprax

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
)

func TestRecord_RandValue(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   float64
	}{
		{
			name:   "prefers calculated amount",
			record: Record{RandCalculated: 301.79, RatePublished: 18.8625, NumberOfUnits: 16},
			want:   301.79,
		},
		{
			name:   "falls back to rate times units",
			record: Record{RatePublished: 18.8625, NumberOfUnits: 16},
			want:   301.8,
		},
		{
			name:   "falls back to scheme fixed",
			record: Record{RandSchemeFixed: 150.0},
			want:   150.0,
		},
		{
			name:   "all zero",
			record: Record{},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.record.RandValue()
			if diff := got - tt.want; diff > 0.01 || diff < -0.01 {
				t.Errorf("RandValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordList_DecodesBothShapes(t *testing.T) {
	paginated := `{"pageResult": [{"code": "2471", "numberOfUnits": 6}]}`
	var fromPage RecordList
	if err := json.Unmarshal([]byte(paginated), &fromPage); err != nil {
		t.Fatalf("decoding paginated shape: %v", err)
	}
	if len(fromPage) != 1 || fromPage[0].Code != "2471" {
		t.Errorf("unexpected paginated decode: %+v", fromPage)
	}

	bare := `[{"code": "1221", "numberOfUnits": 30}]`
	var fromArray RecordList
	if err := json.Unmarshal([]byte(bare), &fromArray); err != nil {
		t.Fatalf("decoding bare array shape: %v", err)
	}
	if len(fromArray) != 1 || fromArray[0].Code != "1221" {
		t.Errorf("unexpected bare array decode: %+v", fromArray)
	}
}

// newTestServer serves the auth endpoint at /auth and delegates
// everything else to handler. It counts auth calls.
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int) {
	t.Helper()
	authCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding auth body: %v", err)
		}
		if body["userName"] == "" || body["UniqueReferenceHost"] == "" {
			t.Errorf("auth body missing credentials: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &authCalls
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		AuthURL:    srv.URL + "/auth",
		TariffURL:  srv.URL,
		ProductURL: srv.URL,
		Username:   "billing@example.test",
		Password:   "secret",
		Year:       "2026",
	}
}

func TestLookupPrices(t *testing.T) {
	srv, authCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/msr/medical/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Year"); got != "2025" {
			t.Errorf("expected year from service date, got %q", got)
		}

		var body msrListRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if body.PlanOptionCode != "39I" || body.DisciplineCode != "014A" || !body.Model {
			t.Errorf("unexpected request body: %+v", body)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"pageResult": []Record{
				{Code: "2471", NumberOfUnits: 6, RandCalculated: 126.74},
				{Code: "0023", NumberOfUnits: 8, RatePublished: 22.5},
			},
		})
	})

	client := NewClient(testConfig(srv))

	prices, err := client.LookupPrices(context.Background(), []string{"2471", "0023"}, "39I", "014A", "2025-03-14")
	if err != nil {
		t.Fatalf("LookupPrices: %v", err)
	}
	if len(prices["2471"]) != 1 || prices["2471"][0].RandCalculated != 126.74 {
		t.Errorf("unexpected records for 2471: %+v", prices["2471"])
	}
	if len(prices["0023"]) != 1 {
		t.Errorf("expected one record for 0023, got %+v", prices["0023"])
	}

	// Second call reuses the cached token.
	if _, err := client.LookupPrices(context.Background(), []string{"2471"}, "39I", "014A", "2025-03-14"); err != nil {
		t.Fatalf("second LookupPrices: %v", err)
	}
	if *authCalls != 1 {
		t.Errorf("expected 1 auth call, got %d", *authCalls)
	}
}

func TestLookupPrices_NoCodes(t *testing.T) {
	client := NewClient(Config{Username: "u"})
	prices, err := client.LookupPrices(context.Background(), nil, "39I", "014A", "")
	if err != nil {
		t.Fatalf("expected no error for empty code list, got %v", err)
	}
	if len(prices) != 0 {
		t.Errorf("expected empty map, got %v", prices)
	}
}

func TestLookupDiagnosis(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/icd10s/search/1/1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if len(body.Filters) != 1 || body.Filters[0].Operation != "Equals" {
			t.Errorf("unexpected filters: %+v", body.Filters)
		}

		resp := map[string]interface{}{"icd10s": map[string]interface{}{"pageResult": []ICD10{}}}
		if body.Filters[0].Value == "D25.9" {
			resp["icd10s"] = map[string]interface{}{
				"pageResult": []ICD10{{Code: "D25.9", Description: "Leiomyoma of uterus", PMB: true}},
			}
		}
		json.NewEncoder(w).Encode(resp)
	})

	client := NewClient(testConfig(srv))

	pmb, known, err := client.LookupDiagnosis(context.Background(), "D25.9")
	if err != nil {
		t.Fatalf("LookupDiagnosis: %v", err)
	}
	if !known || !pmb {
		t.Errorf("expected known PMB diagnosis, got pmb=%v known=%v", pmb, known)
	}

	_, known, err = client.LookupDiagnosis(context.Background(), "Z99.9")
	if err != nil {
		t.Fatalf("LookupDiagnosis unknown code: %v", err)
	}
	if known {
		t.Error("expected unknown diagnosis")
	}
}

func TestSearchICD10(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/icd10s/search/1/20" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if body.FilterJoin != "Or" || len(body.Filters) != 2 {
			t.Errorf("expected Or-joined term filters, got %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"icd10s": map[string]interface{}{
				"pageResult": []ICD10{{Code: "K35.8", Description: "Acute appendicitis"}},
			},
		})
	})

	client := NewClient(testConfig(srv))

	results, err := client.SearchICD10(context.Background(), "appendicitis", 20)
	if err != nil {
		t.Fatalf("SearchICD10: %v", err)
	}
	if len(results) != 1 || results[0].Code != "K35.8" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestSearchTariffs(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tariffcodes/medical/search/1/10" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pageResult": []Record{{Code: "0023", Description: "Anaesthetic time"}},
		})
	})

	client := NewClient(testConfig(srv))

	results, err := client.SearchTariffs(context.Background(), "anaesthetic", 10)
	if err != nil {
		t.Fatalf("SearchTariffs: %v", err)
	}
	if len(results) != 1 || results[0].Code != "0023" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestClient_Disabled(t *testing.T) {
	client := NewClient(Config{})

	if client.Enabled() {
		t.Error("expected client without username to be disabled")
	}
	if _, _, err := client.LookupDiagnosis(context.Background(), "D25.9"); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if _, err := client.LookupPrices(context.Background(), []string{"0023"}, "39I", "014A", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestClient_NilReceiver(t *testing.T) {
	var client *Client

	if client.Enabled() {
		t.Error("expected nil client to be disabled")
	}
	if _, err := client.LookupPrices(context.Background(), []string{"0023"}, "39I", "014A", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := NewClient(testConfig(srv))

	for i := 0; i < 5; i++ {
		if _, _, err := client.LookupDiagnosis(context.Background(), "D25.9"); err == nil {
			t.Fatalf("call %d: expected error from failing upstream", i)
		}
	}

	_, _, err := client.LookupDiagnosis(context.Background(), "D25.9")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open circuit error, got %v", err)
	}
}
