package match

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// defaultSpecialties maps canonical specialties to their known synonyms.
var defaultSpecialties = map[string][]string{
	"Cardiology":                         {"cardiologist", "cardiovascular disease", "cardiovascular medicine", "interventional cardiology"},
	"Orthopedic Surgery":                 {"orthopaedic surgery", "orthopedics", "orthopaedics", "orthopedic surgeon", "orthopaedic surgeon"},
	"Pediatrics":                         {"pediatric medicine", "paediatrics", "pediatrician", "general pediatrics"},
	"Dermatology":                        {"dermatologist", "dermatology and venereology"},
	"Internal Medicine":                  {"internist", "general internal medicine"},
	"Neurology":                          {"neurologist", "clinical neurology"},
	"Family Medicine":                    {"family practice", "general practice", "family physician"},
	"Gastroenterology":                   {"gastroenterologist", "digestive diseases"},
	"Obstetrics & Gynecology":            {"obstetrics and gynecology", "ob gyn", "obgyn", "obstetrics gynecology"},
	"Psychiatry":                         {"psychiatrist", "psychiatry and neurology"},
	"Diagnostic Radiology":               {"radiology", "radiologist"},
	"Medical Oncology":                   {"oncology", "oncologist", "hematology and oncology", "hematology oncology"},
	"Ophthalmology":                      {"ophthalmologist", "eye surgery"},
	"Emergency Medicine":                 {"emergency physician", "emergency room medicine"},
	"Anesthesiology":                     {"anesthesia", "anesthesiologist", "anaesthesiology"},
	"Urology":                            {"urologist"},
	"Endocrinology":                      {"endocrinology diabetes and metabolism", "endocrinologist"},
	"Pulmonary Disease":                  {"pulmonology", "pulmonologist", "pulmonary medicine"},
	"Nephrology":                         {"nephrologist", "kidney disease"},
	"Physical Medicine & Rehabilitation": {"physiatry", "pm r", "physical medicine and rehabilitation"},
}

// Taxonomy resolves specialty descriptions to canonical specialties.
type Taxonomy struct {
	canonical map[string]string // normalized synonym -> canonical name
}

// NewTaxonomy builds a taxonomy from canonical names and their synonyms.
func NewTaxonomy(specialties map[string][]string) *Taxonomy {
	t := &Taxonomy{canonical: make(map[string]string)}
	for name, synonyms := range specialties {
		t.Add(name, synonyms...)
	}
	return t
}

// DefaultTaxonomy returns the built-in specialty taxonomy.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy(defaultSpecialties)
}

// Add registers a canonical specialty and its synonyms. Not safe to call
// concurrently with lookups.
func (t *Taxonomy) Add(name string, synonyms ...string) {
	t.canonical[Normalize(name)] = name
	for _, s := range synonyms {
		t.canonical[Normalize(s)] = name
	}
}

// Canonical returns the canonical specialty for s.
func (t *Taxonomy) Canonical(s string) (string, bool) {
	c, ok := t.canonical[Normalize(s)]
	return c, ok
}

// key returns the canonical name when known, else the normalized text.
func (t *Taxonomy) key(s string) string {
	if c, ok := t.Canonical(s); ok {
		return c
	}
	return Normalize(s)
}

// Match reports whether observed names the same specialty as system.
// observed may list several descriptions separated by commas, semicolons
// or slashes; any one of them matching is enough.
func (t *Taxonomy) Match(system, observed string) bool {
	want := t.key(system)
	if want == "" {
		return false
	}
	if t.key(observed) == want {
		return true
	}
	parts := strings.FieldsFunc(observed, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|'
	})
	for _, p := range parts {
		if k := t.key(p); k != "" && k == want {
			return true
		}
	}
	return false
}

// LoadTaxonomy reads additional specialties from a YAML file shaped as
//
//	specialties:
//	  Cardiology: [cardiologist, cardiovascular disease]
//
// and merges them over the built-in taxonomy.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "match: read taxonomy %s", path)
	}

	var file struct {
		Specialties map[string][]string `yaml:"specialties"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "match: parse taxonomy")
	}

	t := DefaultTaxonomy()
	for name, synonyms := range file.Specialties {
		t.Add(name, synonyms...)
	}
	return t, nil
}
