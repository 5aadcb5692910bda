package source

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/provider-verify/internal/model"
)

// FixtureRecord is one provider as a fixture source reports it.
type FixtureRecord struct {
	// NPI overrides the key when the source attributes the record to a
	// different NPI.
	NPI       string `yaml:"npi"`
	Name      string `yaml:"name"`
	Phone     string `yaml:"phone"`
	Address   string `yaml:"address"`
	Specialty string `yaml:"specialty"`
}

// FixtureFile is the YAML layout of a fixture source.
type FixtureFile struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Unavailable makes every lookup fail, simulating an outage.
	Unavailable bool                     `yaml:"unavailable"`
	Records     map[string]FixtureRecord `yaml:"records"`
}

// FixtureSource answers lookups from an in-memory table keyed by NPI.
type FixtureSource struct {
	name        string
	url         string
	unavailable bool
	records     map[string]FixtureRecord
	now         func() time.Time
}

// NewFixtureSource creates a fixture source from records keyed by NPI.
func NewFixtureSource(name, url string, records map[string]FixtureRecord) *FixtureSource {
	if records == nil {
		records = map[string]FixtureRecord{}
	}
	return &FixtureSource{name: name, url: url, records: records, now: time.Now}
}

// LoadFixtureSource reads a fixture source from a YAML file. name and url
// override the file's values when non-empty.
func LoadFixtureSource(path, name, url string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read fixture %s", path)
	}
	var f FixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "source: parse fixture %s", path)
	}
	if name == "" {
		name = f.Name
	}
	if url == "" {
		url = f.URL
	}
	if name == "" {
		return nil, eris.Errorf("source: fixture %s has no name", path)
	}
	s := NewFixtureSource(name, url, f.Records)
	s.unavailable = f.Unavailable
	return s, nil
}

func (s *FixtureSource) Name() string { return s.name }

func (s *FixtureSource) URL() string { return s.url }

func (s *FixtureSource) Lookup(ctx context.Context, id model.Identity) (*model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.unavailable {
		return nil, eris.Wrapf(ErrSourceUnavailable, "source: fixture %s offline", s.name)
	}
	obs := &model.Observation{CheckedAt: s.now().UTC()}
	rec, ok := s.records[id.NPI]
	if !ok {
		obs.Reason = model.ReasonNoRecord
		return obs, nil
	}
	obs.Found = true
	obs.NPI = id.NPI
	if rec.NPI != "" {
		obs.NPI = rec.NPI
	}
	obs.Name = rec.Name
	obs.Phone = rec.Phone
	obs.Address = rec.Address
	obs.Specialty = rec.Specialty
	return obs, nil
}
