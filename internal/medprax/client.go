package medprax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrDisabled is returned when no Medprax credentials are configured.
var ErrDisabled = errors.New("medprax client is not configured")

// API references. Each Medprax sub-API authenticates under its own
// unique reference host.
const (
	refTariff  = "TARIFF"
	refProduct = "PRODUCT"
)

const defaultTimeout = 30 * time.Second

// Config holds the connection settings for the Medprax APIs.
type Config struct {
	AuthURL    string
	TariffURL  string
	ProductURL string
	Username   string
	Password   string
	// Year is the default tariff year when a request carries no
	// service date.
	Year string
}

// Client talks to the Medprax auth, tariff and product APIs. Tokens are
// obtained per API reference and cached for the life of the process.
// All outbound calls pass through a shared circuit breaker; when the
// circuit is open, calls fail fast and callers fall back to local data.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	tokens map[string]string
}

// NewClient builds a Client from cfg. A client with an empty username
// is valid but disabled: every lookup returns ErrDisabled.
func NewClient(cfg Config) *Client {
	settings := gobreaker.Settings{
		Name:        "medprax",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		tokens:  make(map[string]string),
	}
}

// Enabled reports whether credentials are configured. A nil client is
// disabled; callers may pass one through interface values without
// guarding.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Username != ""
}

// token returns a cached bearer token for the given API reference,
// authenticating on first use.
func (c *Client) token(ctx context.Context, reference string) (string, error) {
	c.mu.Lock()
	if tok, ok := c.tokens[reference]; ok {
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"UniqueReferenceHost": fmt.Sprintf("MEDPRAX.%s.API", reference),
		"userName":            c.cfg.Username,
		"password":            c.cfg.Password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticating with medprax: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("medprax auth returned status %d", resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decoding medprax auth response: %w", err)
	}
	if auth.Token == "" {
		return "", errors.New("medprax auth response contained no token")
	}

	c.mu.Lock()
	c.tokens[reference] = auth.Token
	c.mu.Unlock()

	return auth.Token, nil
}

// invalidateToken drops a cached token so the next call re-authenticates.
func (c *Client) invalidateToken(reference string) {
	c.mu.Lock()
	delete(c.tokens, reference)
	c.mu.Unlock()
}

// do performs an authenticated POST through the circuit breaker and
// returns the raw response body.
func (c *Client) do(ctx context.Context, baseURL, endpoint, reference, year string, body interface{}) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if year == "" {
		year = c.cfg.Year
	}
	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		token, err := c.token(ctx, reference)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Year", year)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidateToken(reference)
			return nil, fmt.Errorf("medprax rejected token for %s", reference)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// serviceYear extracts the tariff year from a service date, falling
// back to the configured default year.
func (c *Client) serviceYear(serviceDate string) string {
	if serviceDate == "" {
		return c.cfg.Year
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02"} {
		if t, err := time.Parse(layout, serviceDate); err == nil {
			return t.Format("2006")
		}
	}
	return c.cfg.Year
}

// LookupPrices fetches MSR price records for the given tariff codes and
// returns them keyed by code. Codes with no published record are absent
// from the map.
func (c *Client) LookupPrices(ctx context.Context, codes []string, plan, discipline, serviceDate string) (map[string][]Record, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if len(codes) == 0 {
		return map[string][]Record{}, nil
	}

	body := msrListRequest{
		TariffCodes:    codes,
		PlanOptionCode: plan,
		DisciplineCode: discipline,
		PriceGroupCode: "",
		Model:          true,
	}

	raw, err := c.do(ctx, c.cfg.TariffURL, "/msr/medical/list", refTariff, c.serviceYear(serviceDate), body)
	if err != nil {
		return nil, err
	}

	var records RecordList
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding msr list response: %w", err)
	}

	byCode := make(map[string][]Record, len(codes))
	for _, rec := range records {
		byCode[rec.Code] = append(byCode[rec.Code], rec)
	}
	return byCode, nil
}

// LookupDiagnosis resolves a single ICD-10 code. known is false when
// the code is absent from the Medprax product catalogue, in which case
// pmb carries no meaning.
func (c *Client) LookupDiagnosis(ctx context.Context, code string) (pmb bool, known bool, err error) {
	body := searchRequest{
		SortKey: "code",
		Filters: []searchFilter{
			{PropertyName: "Code", Operation: "Equals", Value: code},
		},
		FilterJoin: "And",
	}

	raw, err := c.do(ctx, c.cfg.ProductURL, "/icd10s/search/1/1", refProduct, "", body)
	if err != nil {
		return false, false, err
	}

	var resp icd10SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, false, fmt.Errorf("decoding icd10 search response: %w", err)
	}
	if len(resp.ICD10s.PageResult) == 0 {
		return false, false, nil
	}
	return resp.ICD10s.PageResult[0].PMB, true, nil
}

// termFilters builds the Contains-on-code-or-description filter set
// shared by the term search endpoints.
func termFilters(term string) searchRequest {
	return searchRequest{
		SortKey: "code",
		Filters: []searchFilter{
			{PropertyName: "Code", Operation: "Contains", Value: term},
			{PropertyName: "Description", Operation: "Contains", Value: term},
		},
		FilterJoin: "Or",
	}
}

// SearchICD10 performs a free-text diagnosis search.
func (c *Client) SearchICD10(ctx context.Context, term string, limit int) ([]ICD10, error) {
	raw, err := c.do(ctx, c.cfg.ProductURL, fmt.Sprintf("/icd10s/search/1/%d", limit), refProduct, "", termFilters(term))
	if err != nil {
		return nil, err
	}

	var resp icd10SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding icd10 search response: %w", err)
	}
	return resp.ICD10s.PageResult, nil
}

// SearchTariffs performs a free-text tariff code search.
func (c *Client) SearchTariffs(ctx context.Context, term string, limit int) ([]Record, error) {
	raw, err := c.do(ctx, c.cfg.TariffURL, fmt.Sprintf("/tariffcodes/medical/search/1/%d", limit), refTariff, "", termFilters(term))
	if err != nil {
		return nil, err
	}

	var records RecordList
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding tariff search response: %w", err)
	}
	return records, nil
}
