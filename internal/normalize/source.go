package normalize

import "strings"

// canonicalSources maps lowercased platform names to their canonical labels.
// Free-text source strings come both from platform exports and from operators
// typing by hand; "airbnb" and "Airbnb" must land on the same scope key.
var canonicalSources = map[string]string{
	"airbnb":      "Airbnb",
	"air bnb":     "Airbnb",
	"vrbo":        "VRBO",
	"homeaway":    "VRBO",
	"booking.com": "Booking.com",
	"booking com": "Booking.com",
	"booking":     "Booking.com",
	"expedia":     "Expedia",
	"direct":      "Direct",
	"owner":       "Owner",
}

// Source maps a free-text booking-source string to its canonical label.
// Unknown platforms fall back to title-casing each space/underscore-delimited
// word. Idempotent: Source(Source(x)) == Source(x).
func Source(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := canonicalSources[key]; ok {
		return c
	}
	return titleWords(key)
}

func titleWords(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '_' })
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
