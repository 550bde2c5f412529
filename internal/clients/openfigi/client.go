// Package openfigi provides a client for Bloomberg's OpenFIGI API.
// The engine uses the v3 search endpoint to enrich security-master rows
// with classification data for identifiers discovered during ingestion.
package openfigi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.openfigi.com/v3"

// MaxRequestsPerMinute is the documented request budget with an API key.
// The drain throttle must stay below this independently of server-side
// enforcement.
const MaxRequestsPerMinute = 20

// SearchRequest is the body of a v3 search call. Start carries the
// continuation token of the previous page.
type SearchRequest struct {
	Query    string `json:"query"`
	Currency string `json:"currency,omitempty"`
	Start    string `json:"start,omitempty"`
}

// SearchResult is a single payload record returned by the search endpoint.
type SearchResult struct {
	FIGI            string `json:"figi"`
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	ExchCode        string `json:"exchCode"`
	MarketSector    string `json:"marketSector"`    // Bloomberg yellow-key sector
	SecurityType    string `json:"securityType"`    // e.g., "Common Stock"
	SecurityType2   string `json:"securityType2"`   // Secondary security type
	CompositeFIGI   string `json:"compositeFIGI"`
	ShareClassFIGI  string `json:"shareClassFIGI"`
	SecurityDes     string `json:"securityDescription"`
}

// searchResponse is one page of search results. Next is absent on the
// final page.
type searchResponse struct {
	Data  []SearchResult `json:"data"`
	Next  string         `json:"next,omitempty"`
	Error string         `json:"error,omitempty"`
}

// StatusError is a non-200 response from the API. Status 429 means the
// server rejected the request for rate reasons despite the client throttle.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("OpenFIGI API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Client is the OpenFIGI API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new OpenFIGI client. The API key raises the rate
// budget and is sent with every request.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "openfigi").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

// Search runs the v3 search for a query and optional currency, following
// the continuation token until the final page. One page costs one request
// against the rate budget; callers throttle per call, so queries expected
// to page heavily should be narrowed with the currency.
func (c *Client) Search(query, currency string) ([]SearchResult, error) {
	req := SearchRequest{Query: query, Currency: currency}

	var all []SearchResult
	for {
		page, err := c.doSearch(req)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if page.Next == "" {
			break
		}
		req.Start = page.Next
	}

	c.log.Debug().Str("query", query).Int("results", len(all)).Msg("OpenFIGI search finished")
	return all, nil
}

// doSearch performs a single search page request.
func (c *Client) doSearch(request SearchRequest) (*searchResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if page.Error != "" {
		return nil, fmt.Errorf("OpenFIGI search error: %s", page.Error)
	}

	return &page, nil
}
