package match

import "strings"

// honorifics and credentials carry no identity and are dropped before
// names are compared.
var honorifics = map[string]bool{
	"dr": true, "doctor": true, "mr": true, "mrs": true, "ms": true, "miss": true, "prof": true,
	"md": true, "phd": true, "dds": true, "dmd": true, "dpm": true, "od": true, "dc": true,
	"np": true, "pa": true, "pac": true, "rn": true, "aprn": true, "fnp": true, "crnp": true,
	"facc": true, "facs": true, "facp": true, "faap": true, "faafp": true, "mph": true, "mba": true,
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
}

// nameTokens returns the identity-bearing tokens of a person's name.
func nameTokens(s string) []string {
	raw := words(s)
	out := make([]string, 0, len(raw))
	for i, w := range raw {
		if honorifics[w] || len([]rune(w)) == 1 {
			continue
		}
		// "DO" is also a surname; only treat it as a credential when it trails
		// a full first and last name.
		if w == "do" && i == len(raw)-1 && len(out) >= 2 {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (m *Matcher) name(system, observed string) Result {
	a := nameTokens(system)
	b := nameTokens(observed)
	if len(a) == 0 || len(b) == 0 {
		return Result{}
	}
	if strings.Join(a, " ") == strings.Join(b, " ") {
		return Result{Match: true, Similarity: 1}
	}
	sim := tokenOverlap(a, b)
	return Result{Match: sim >= m.nameThreshold, Similarity: sim}
}

// NameSimilarity returns the Jaccard overlap of the identity tokens of two
// names.
func NameSimilarity(a, b string) float64 {
	return tokenOverlap(nameTokens(a), nameTokens(b))
}

func tokenOverlap(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA)
	for w := range setB {
		if !setA[w] {
			union++
		}
	}
	return float64(intersection) / float64(union)
}
