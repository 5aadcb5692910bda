package match

import "strings"

// PhoneDigits strips everything but digits, drops an extension, and drops a
// leading US country code from 11-digit numbers.
func PhoneDigits(s string) string {
	lower := strings.ToLower(s)
	for _, marker := range []string{"ext", " x", "#"} {
		if i := strings.Index(lower, marker); i > 0 {
			lower = lower[:i]
		}
	}

	var b strings.Builder
	for _, r := range lower {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return d
}

// Phone reports whether two phone numbers are the same line.
func Phone(system, observed string) bool {
	a := PhoneDigits(system)
	b := PhoneDigits(observed)
	if len(a) < 7 || len(b) < 7 {
		return false
	}
	return a == b
}
