package model

import "time"

// SourceStatus is the outcome of checking one provider against one source.
type SourceStatus string

const (
	SourceMatch    SourceStatus = "match"
	SourceMismatch SourceStatus = "mismatch"
	SourceNotFound SourceStatus = "not-found"
)

// Reason codes attached to not-found results.
const (
	ReasonNoRecord          = "no_record"
	ReasonSourceUnavailable = "source_unavailable"
	ReasonTimeout           = "timeout"
	ReasonNPIConflict       = "npi_conflict"
)

// FieldKind names a tracked provider field.
type FieldKind string

const (
	FieldName      FieldKind = "name"
	FieldPhone     FieldKind = "phone"
	FieldAddress   FieldKind = "address"
	FieldSpecialty FieldKind = "specialty"
)

// TrackedFields lists every field a source result carries a flag for.
var TrackedFields = []FieldKind{FieldName, FieldPhone, FieldAddress, FieldSpecialty}

// FieldMatches holds the per-field comparison flags of a source result.
type FieldMatches struct {
	Name      bool `json:"name"`
	Phone     bool `json:"phone"`
	Address   bool `json:"address"`
	Specialty bool `json:"specialty"`
}

// Get returns the flag for kind.
func (f FieldMatches) Get(kind FieldKind) bool {
	switch kind {
	case FieldName:
		return f.Name
	case FieldPhone:
		return f.Phone
	case FieldAddress:
		return f.Address
	case FieldSpecialty:
		return f.Specialty
	}
	return false
}

// Set returns a copy of f with the flag for kind set to v.
func (f FieldMatches) Set(kind FieldKind, v bool) FieldMatches {
	switch kind {
	case FieldName:
		f.Name = v
	case FieldPhone:
		f.Phone = v
	case FieldAddress:
		f.Address = v
	case FieldSpecialty:
		f.Specialty = v
	}
	return f
}

// All reports whether every tracked field matched.
func (f FieldMatches) All() bool {
	return f.Name && f.Phone && f.Address && f.Specialty
}

// Any reports whether at least one tracked field matched.
func (f FieldMatches) Any() bool {
	return f.Name || f.Phone || f.Address || f.Specialty
}

// DataSourceResult is one source's verdict on one provider. It is created
// once per check and never edited; a new check produces a new result.
type DataSourceResult struct {
	Name        string       `json:"name"`
	URL         string       `json:"url"`
	LastChecked time.Time    `json:"last_checked"`
	Status      SourceStatus `json:"status"`
	Confidence  int          `json:"confidence"`
	Fields      FieldMatches `json:"fields"`
	Reason      string       `json:"reason,omitempty"`
}

// Consistent reports whether the result satisfies the status invariants:
// not-found carries zero confidence and no matched fields, match has every
// field matched, and mismatch has at least one field unmatched.
func (r DataSourceResult) Consistent() bool {
	if r.Confidence < 0 || r.Confidence > 100 {
		return false
	}
	switch r.Status {
	case SourceNotFound:
		return r.Confidence == 0 && !r.Fields.Any()
	case SourceMatch:
		return r.Fields.All()
	case SourceMismatch:
		return !r.Fields.All()
	}
	return false
}

// SameResults reports whether two result sets describe the same checks.
func SameResults(a, b []DataSourceResult) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Name != y.Name || x.URL != y.URL || x.Status != y.Status ||
			x.Confidence != y.Confidence || x.Fields != y.Fields ||
			x.Reason != y.Reason || !x.LastChecked.Equal(y.LastChecked) {
			return false
		}
	}
	return true
}

// Identity is the key used to look a provider up in an external source.
type Identity struct {
	NPI   string `json:"npi"`
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// Observation is what an external source reported for a provider. Found is
// false when the source has no record or could not be reached; Reason then
// says which.
type Observation struct {
	Found     bool      `json:"found"`
	NPI       string    `json:"npi,omitempty"`
	Name      string    `json:"name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Specialty string    `json:"specialty,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Value returns the observed value for kind.
func (o Observation) Value(kind FieldKind) string {
	switch kind {
	case FieldName:
		return o.Name
	case FieldPhone:
		return o.Phone
	case FieldAddress:
		return o.Address
	case FieldSpecialty:
		return o.Specialty
	}
	return ""
}
