// Package nppes provides a client for the CMS NPPES NPI Registry API.
package nppes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public NPI Registry API endpoint.
const DefaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"

const apiVersion = "2.1"

// Client defines the NPI Registry operations.
type Client interface {
	// Lookup returns the record for an NPI, or nil when the registry has none.
	Lookup(ctx context.Context, npi string) (*Result, error)
	// Search returns records matching the given criteria.
	Search(ctx context.Context, params SearchParams) ([]Result, error)
}

// Response is the registry's JSON envelope.
type Response struct {
	ResultCount int        `json:"result_count"`
	Results     []Result   `json:"results"`
	Errors      []APIError `json:"Errors,omitempty"`
}

// APIError is a validation error reported in a 200 response.
type APIError struct {
	Description string `json:"description"`
	Field       string `json:"field"`
	Number      string `json:"number"`
}

// Result is one NPI record.
type Result struct {
	Number          string     `json:"number"`
	EnumerationType string     `json:"enumeration_type"`
	Basic           Basic      `json:"basic"`
	Addresses       []Address  `json:"addresses"`
	Taxonomies      []Taxonomy `json:"taxonomies"`
}

// Basic holds the name block of a record. Individuals (NPI-1) use the
// person fields and organizations (NPI-2) use OrganizationName.
type Basic struct {
	NamePrefix       string `json:"name_prefix"`
	FirstName        string `json:"first_name"`
	MiddleName       string `json:"middle_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
	Status           string `json:"status"`
}

// Address is a practice location or mailing address.
type Address struct {
	Purpose    string `json:"address_purpose"`
	Address1   string `json:"address_1"`
	Address2   string `json:"address_2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Telephone  string `json:"telephone_number"`
}

// Taxonomy is a provider specialty classification.
type Taxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
	State   string `json:"state"`
}

// Name returns the display name of the record.
func (r Result) Name() string {
	if r.Basic.OrganizationName != "" && r.Basic.LastName == "" {
		return r.Basic.OrganizationName
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Basic.FirstName, r.Basic.MiddleName, r.Basic.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Location returns the practice location address, falling back to the
// first address on file.
func (r Result) Location() (Address, bool) {
	for _, a := range r.Addresses {
		if strings.EqualFold(a.Purpose, "LOCATION") {
			return a, true
		}
	}
	if len(r.Addresses) > 0 {
		return r.Addresses[0], true
	}
	return Address{}, false
}

// PrimaryTaxonomy returns the primary taxonomy, or the first one when none
// is flagged.
func (r Result) PrimaryTaxonomy() (Taxonomy, bool) {
	for _, t := range r.Taxonomies {
		if t.Primary {
			return t, true
		}
	}
	if len(r.Taxonomies) > 0 {
		return r.Taxonomies[0], true
	}
	return Taxonomy{}, false
}

// Line renders the address as "street, city, ST zip".
func (a Address) Line() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.Address1))
	if s := strings.TrimSpace(a.Address2); s != "" {
		b.WriteString(", ")
		b.WriteString(s)
	}
	if a.City != "" {
		b.WriteString(", ")
		b.WriteString(a.City)
	}
	if a.State != "" {
		b.WriteString(", ")
		b.WriteString(a.State)
	}
	if z := a.PostalCode; z != "" {
		if len(z) > 5 {
			z = z[:5]
		}
		b.WriteString(" ")
		b.WriteString(z)
	}
	return b.String()
}

// SearchParams are the supported registry query parameters.
type SearchParams struct {
	Number    string
	FirstName string
	LastName  string
	City      string
	State     string
	Limit     int
}

func (p SearchParams) values() url.Values {
	v := url.Values{}
	v.Set("version", apiVersion)
	set := func(k, val string) {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(k, val)
		}
	}
	set("number", p.Number)
	set("first_name", p.FirstName)
	set("last_name", p.LastName)
	set("city", p.City)
	set("state", p.State)
	if p.Limit > 0 {
		v.Set("limit", fmt.Sprint(p.Limit))
	}
	return v
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nppes: unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the status signals a retryable condition.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Option configures the NPPES client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. The registry asks clients to
// stay well under its undocumented throttle.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new NPI Registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, npi string) (*Result, error) {
	results, err := c.Search(ctx, SearchParams{Number: npi, Limit: 1})
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].Number == npi {
			return &results[i], nil
		}
	}
	return nil, nil
}

func (c *httpClient) Search(ctx context.Context, params SearchParams) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nppes: rate limit wait")
	}

	reqURL := c.baseURL + "?" + params.values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "nppes: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "nppes: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "nppes: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "nppes: decode response")
	}
	if len(out.Errors) > 0 {
		return nil, eris.Errorf("nppes: %s: %s", out.Errors[0].Field, out.Errors[0].Description)
	}
	return out.Results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
