// Package ingest reads provider upload batches and normalizes their rows.
package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
)

// Column is a recognized upload column.
type Column string

const (
	ColName      Column = "Provider Name"
	ColNPI       Column = "NPI"
	ColSpecialty Column = "Specialty"
	ColPhone     Column = "Phone"
	ColEmail     Column = "Email"
	ColAddress   Column = "Address"
	ColCity      Column = "City"
	ColState     Column = "State"
	ColZIP       Column = "ZIP"
)

// RequiredColumns must all be present in an upload header.
var RequiredColumns = []Column{ColName, ColSpecialty, ColPhone, ColAddress, ColCity, ColState, ColZIP, ColNPI}

var columnAliases = map[string]Column{
	"provider name":  ColName,
	"name":           ColName,
	"provider":       ColName,
	"npi":            ColNPI,
	"npi number":     ColNPI,
	"specialty":      ColSpecialty,
	"speciality":     ColSpecialty,
	"phone":          ColPhone,
	"phone number":   ColPhone,
	"telephone":      ColPhone,
	"email":          ColEmail,
	"e mail":         ColEmail,
	"address":        ColAddress,
	"street":         ColAddress,
	"street address": ColAddress,
	"city":           ColCity,
	"state":          ColState,
	"zip":            ColZIP,
	"zip code":       ColZIP,
	"zipcode":        ColZIP,
	"postal code":    ColZIP,
}

// ErrMissingColumns is returned when an upload header lacks a required
// column. The whole batch is rejected.
var ErrMissingColumns = eris.New("ingest: missing required columns")

// Header maps recognized columns to their position in a row.
type Header map[Column]int

// ParseHeader recognizes the columns of an upload header. Matching ignores
// case, surrounding space, underscores and hyphens. Unknown columns are
// ignored.
func ParseHeader(row []string) (Header, error) {
	h := Header{}
	for i, cell := range row {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		key = strings.Join(strings.FieldsFunc(key, func(r rune) bool {
			return unicode.IsSpace(r) || r == '_' || r == '-'
		}), " ")
		if col, ok := columnAliases[key]; ok {
			if _, dup := h[col]; !dup {
				h[col] = i
			}
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := h[col]; !ok {
			missing = append(missing, string(col))
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumns, "ingest: header lacks %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func (h Header) get(row []string, col Column) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// MalformedRecordError describes a row that cannot become a provider.
type MalformedRecordError struct {
	Line   int    `json:"line"`
	NPI    string `json:"npi,omitempty"`
	Reason string `json:"reason"`
}

func (e *MalformedRecordError) Error() string {
	if e.NPI != "" {
		return fmt.Sprintf("ingest: line %d (npi %s): %s", e.Line, e.NPI, e.Reason)
	}
	return fmt.Sprintf("ingest: line %d: %s", e.Line, e.Reason)
}

// Normalize turns one data row into an unscored provider. line is the
// 1-based line number used in errors.
func (h Header) Normalize(line int, row []string) (model.Provider, error) {
	name := collapse(h.get(row, ColName))
	rawNPI := h.get(row, ColNPI)
	npi := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, rawNPI)

	switch {
	case npi == "":
		return model.Provider{}, &MalformedRecordError{Line: line, Reason: "missing npi"}
	case name == "":
		return model.Provider{}, &MalformedRecordError{Line: line, NPI: npi, Reason: "missing provider name"}
	case !ValidNPI(npi):
		return model.Provider{}, &MalformedRecordError{Line: line, NPI: rawNPI, Reason: "invalid npi"}
	}

	city := collapse(h.get(row, ColCity))
	state := strings.ToUpper(h.get(row, ColState))
	if code, ok := match.StateCode(state); ok {
		state = code
	}
	zip := h.get(row, ColZIP)
	street := collapse(h.get(row, ColAddress))

	return model.Provider{
		NPI:       npi,
		Name:      name,
		Specialty: collapse(h.get(row, ColSpecialty)),
		Phone:     h.get(row, ColPhone),
		Email:     strings.ToLower(h.get(row, ColEmail)),
		Address:   model.FormatAddress(street, city, state, zip),
		City:      city,
		State:     state,
		ZIP:       zip,
		Location:  model.FormatLocation(city, state),
		Status:    model.StatusNeedsReview,
	}, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ValidNPI reports whether npi is ten digits with a valid check digit. The
// check digit is the Luhn digit of the number prefixed with 80840, the
// health-industry issuer prefix.
func ValidNPI(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	for _, r := range npi {
		if r < '0' || r > '9' {
			return false
		}
	}
	digits := "80840" + npi
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
