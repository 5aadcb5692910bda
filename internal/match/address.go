package match

import "strings"

// unitDesignators end the street part of an address line. Whatever follows
// is a suite or unit and never decides a match.
var unitDesignators = map[string]bool{
	"suite": true, "ste": true, "unit": true, "apt": true, "apartment": true,
	"#": true, "fl": true, "floor": true, "rm": true, "room": true,
	"bldg": true, "building": true, "dept": true, "lot": true,
}

// streetTokens maps common spellings to USPS abbreviations.
var streetTokens = map[string]string{
	"avenue": "ave", "av": "ave", "street": "st", "str": "st",
	"boulevard": "blvd", "drive": "dr", "road": "rd", "lane": "ln",
	"court": "ct", "place": "pl", "parkway": "pkwy", "highway": "hwy",
	"circle": "cir", "terrace": "ter", "square": "sq", "plaza": "plz",
	"expressway": "expy", "freeway": "fwy", "turnpike": "tpke",
	"north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
	"first": "1st", "second": "2nd", "third": "3rd", "fourth": "4th", "fifth": "5th",
	"sixth": "6th", "seventh": "7th", "eighth": "8th", "ninth": "9th", "tenth": "10th",
}

type street struct {
	number string
	name   []string
}

// parseStreet extracts the street number and canonical street-name tokens
// from the first comma-separated segment of an address.
func parseStreet(addr string) (street, bool) {
	line := addr
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	line = strings.ReplaceAll(line, "#", " # ")

	toks := words(line)
	if len(toks) < 2 || !startsWithDigit(toks[0]) {
		return street{}, false
	}

	s := street{number: toks[0]}
	for _, t := range toks[1:] {
		if unitDesignators[t] {
			break
		}
		if canon, ok := streetTokens[t]; ok {
			t = canon
		}
		s.name = append(s.name, t)
	}
	return s, len(s.name) > 0
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// Address reports whether two addresses name the same street location. The
// street numbers must be equal and one street name must be a token prefix
// of the other, so "450 Park Ave" matches "450 Park Avenue New York NY".
func Address(system, observed string) bool {
	a, ok := parseStreet(system)
	if !ok {
		return false
	}
	b, ok := parseStreet(observed)
	if !ok {
		return false
	}
	if a.number != b.number {
		return false
	}
	short, long := a.name, b.name
	if len(short) > len(long) {
		short, long = long, short
	}
	for i, t := range short {
		if long[i] != t {
			return false
		}
	}
	return true
}

// abbrToState maps lowercase state abbreviations to lowercase full names.
var abbrToState = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia", "pr": "puerto rico",
}

var stateToAbbr = func() map[string]string {
	m := make(map[string]string, len(abbrToState))
	for abbr, full := range abbrToState {
		m[full] = abbr
	}
	return m
}()

// StateCode returns the uppercase two-letter code for a state given as an
// abbreviation or a full name. Unknown input is returned trimmed and
// uppercased with ok false.
func StateCode(state string) (string, bool) {
	lower := Normalize(state)
	if _, ok := abbrToState[lower]; ok {
		return strings.ToUpper(lower), true
	}
	if abbr, ok := stateToAbbr[lower]; ok {
		return strings.ToUpper(abbr), true
	}
	return strings.ToUpper(strings.TrimSpace(state)), false
}
