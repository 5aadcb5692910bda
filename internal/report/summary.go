package report

import (
	"math"
	"strconv"

	"github.com/sells-group/provider-verify/internal/model"
)

// LowConfidence is the score below which a queued provider counts as low
// confidence.
const LowConfidence = 70

// Bucket is one range of the confidence distribution.
type Bucket struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Count int    `json:"count"`
}

// SourceTally counts one source's result statuses.
type SourceTally struct {
	Name     string `json:"name"`
	Match    int    `json:"match"`
	Mismatch int    `json:"mismatch"`
	NotFound int    `json:"not_found"`
}

// Summary is the dashboard view of a set of providers.
type Summary struct {
	Total           int           `json:"total"`
	Verified        int           `json:"verified"`
	NeedsReview     int           `json:"needs_review"`
	VerifiedPercent float64       `json:"verified_percent"`
	AvgConfidence   float64       `json:"avg_confidence"`
	LowConfidence   int           `json:"low_confidence"`
	ManualOverrides int           `json:"manual_overrides"`
	Distribution    []Bucket      `json:"distribution"`
	Sources         []SourceTally `json:"sources"`
}

func buckets() []Bucket {
	return []Bucket{
		{Label: "90-100%", Min: 90, Max: 100},
		{Label: "80-89%", Min: 80, Max: 89},
		{Label: "70-79%", Min: 70, Max: 79},
		{Label: "Below 70%", Min: 0, Max: 69},
	}
}

// Summarize computes totals, the confidence distribution and per-source
// tallies. Percentages and averages are rounded to one decimal.
func Summarize(providers []model.Provider) Summary {
	s := Summary{Total: len(providers), Distribution: buckets()}
	sourceIdx := map[string]int{}
	var scoreSum int

	for _, p := range providers {
		scoreSum += p.ConfidenceScore
		switch p.Status {
		case model.StatusVerified:
			s.Verified++
		case model.StatusNeedsReview:
			s.NeedsReview++
			if p.ConfidenceScore < LowConfidence {
				s.LowConfidence++
			}
		}
		if p.ManualOverride {
			s.ManualOverrides++
		}
		for i := range s.Distribution {
			b := &s.Distribution[i]
			if p.ConfidenceScore >= b.Min && p.ConfidenceScore <= b.Max {
				b.Count++
				break
			}
		}
		for _, r := range p.DataSources {
			i, ok := sourceIdx[r.Name]
			if !ok {
				i = len(s.Sources)
				sourceIdx[r.Name] = i
				s.Sources = append(s.Sources, SourceTally{Name: r.Name})
			}
			switch r.Status {
			case model.SourceMatch:
				s.Sources[i].Match++
			case model.SourceMismatch:
				s.Sources[i].Mismatch++
			case model.SourceNotFound:
				s.Sources[i].NotFound++
			}
		}
	}

	if s.Total > 0 {
		s.VerifiedPercent = round1(100 * float64(s.Verified) / float64(s.Total))
		s.AvgConfidence = round1(float64(scoreSum) / float64(s.Total))
	}
	return s
}

// Table renders the summary as metric/value rows.
func (s Summary) Table() Table {
	t := Table{Header: []string{"Metric", "Value"}}
	add := func(k, v string) { t.Rows = append(t.Rows, []string{k, v}) }
	add("Total Providers", strconv.Itoa(s.Total))
	add("Verified", strconv.Itoa(s.Verified))
	add("Needs Review", strconv.Itoa(s.NeedsReview))
	add("Verified %", strconv.FormatFloat(s.VerifiedPercent, 'f', 1, 64)+"%")
	add("Avg Confidence", strconv.FormatFloat(s.AvgConfidence, 'f', 1, 64)+"%")
	add("Low Confidence (<70%)", strconv.Itoa(s.LowConfidence))
	add("Manual Overrides", strconv.Itoa(s.ManualOverrides))
	for _, b := range s.Distribution {
		add(b.Label, strconv.Itoa(b.Count))
	}
	return t
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
