package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// Match returns the registered stations whose name occurs, ignoring case,
// anywhere inside any entry value of rec. Substring containment is
// intentional: free-text fields embed station names among other words.
// A station name that is also a common word will match too.
func Match(rec IncidentRecord, reg *Registry) []string {
	values := make([]string, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		if e.Value != "" {
			values = append(values, foldKey(e.Value))
		}
	}

	var matched []string
	for _, s := range reg.stations {
		key := foldKey(s.name)
		for _, v := range values {
			if strings.Contains(v, key) {
				matched = append(matched, s.name)
				break
			}
		}
	}
	return matched
}

// foldKey applies Unicode case folding. A Caser is not safe for concurrent
// use, so one is built per call.
func foldKey(s string) string {
	return cases.Fold().String(s)
}
