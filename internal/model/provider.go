// Package model defines the provider verification data model.
package model

import (
	"strings"
	"time"
)

// Status is the verification state of a provider.
type Status string

const (
	StatusVerified    Status = "Verified"
	StatusNeedsReview Status = "Needs Review"
	// StatusRemoved is terminal. Removed providers no longer exist in the
	// store; the value only appears in review actions.
	StatusRemoved Status = "Removed"
)

// Valid reports whether s is a status a stored provider can carry.
func (s Status) Valid() bool {
	return s == StatusVerified || s == StatusNeedsReview
}

// ParseStatus accepts the display form ("Needs Review") and the slug forms
// ("needs_review", "needs-review", "verified").
func ParseStatus(s string) (Status, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch norm {
	case "verified":
		return StatusVerified, true
	case "needs review", "review":
		return StatusNeedsReview, true
	}
	return "", false
}

// Provider is a healthcare provider record and its latest verification.
type Provider struct {
	ID              string             `json:"id"`
	NPI             string             `json:"npi"`
	Name            string             `json:"name"`
	Specialty       string             `json:"specialty"`
	Location        string             `json:"location"`
	Phone           string             `json:"phone"`
	Email           string             `json:"email,omitempty"`
	Address         string             `json:"address"`
	City            string             `json:"city,omitempty"`
	State           string             `json:"state,omitempty"`
	ZIP             string             `json:"zip,omitempty"`
	Status          Status             `json:"status"`
	ConfidenceScore int                `json:"confidence_score"`
	LastVerified    time.Time          `json:"last_verified"`
	DataSources     []DataSourceResult `json:"data_sources"`
	ManualOverride  bool               `json:"manual_override,omitempty"`
	BatchID         string             `json:"batch_id,omitempty"`
	Version         int64              `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Identity returns the lookup key handed to external sources.
func (p Provider) Identity() Identity {
	return Identity{
		NPI:   p.NPI,
		Name:  p.Name,
		City:  p.City,
		State: p.State,
	}
}

// InQueue reports whether the provider belongs in the review queue.
func (p Provider) InQueue() bool {
	return p.Status == StatusNeedsReview
}

// Attributes is the submitted description of a provider, the part of the
// record sources are checked against.
type Attributes struct {
	Name      string
	Specialty string
	Location  string
	Phone     string
	Email     string
	Address   string
	City      string
	State     string
	ZIP       string
}

// Attributes returns the descriptive fields of p.
func (p Provider) Attributes() Attributes {
	return Attributes{
		Name:      p.Name,
		Specialty: p.Specialty,
		Location:  p.Location,
		Phone:     p.Phone,
		Email:     p.Email,
		Address:   p.Address,
		City:      p.City,
		State:     p.State,
		ZIP:       p.ZIP,
	}
}

// SetAttributes overwrites the descriptive fields of p.
func (p *Provider) SetAttributes(a Attributes) {
	p.Name = a.Name
	p.Specialty = a.Specialty
	p.Location = a.Location
	p.Phone = a.Phone
	p.Email = a.Email
	p.Address = a.Address
	p.City = a.City
	p.State = a.State
	p.ZIP = a.ZIP
}

// Clone returns a copy that shares no slices with p.
func (p Provider) Clone() Provider {
	c := p
	if p.DataSources != nil {
		c.DataSources = append([]DataSourceResult(nil), p.DataSources...)
	}
	return c
}

// FormatLocation renders "City, ST" from its parts, skipping empty ones.
func FormatLocation(city, state string) string {
	city = strings.TrimSpace(city)
	state = strings.TrimSpace(state)
	switch {
	case city == "":
		return state
	case state == "":
		return city
	}
	return city + ", " + state
}

// FormatAddress renders the single-line address used for display and
// matching: "street, City, ST ZIP".
func FormatAddress(street, city, state, zip string) string {
	var parts []string
	if s := strings.TrimSpace(street); s != "" {
		parts = append(parts, s)
	}
	if c := strings.TrimSpace(city); c != "" {
		parts = append(parts, c)
	}
	tail := strings.TrimSpace(strings.TrimSpace(state) + " " + strings.TrimSpace(zip))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
