package domain

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding/ianaindex"
)

// columnElement is the element name carrying one key/value entry.
const columnElement = "Column"

var errNoEntries = errors.New("no Column entries found")

// ExtractFile opens the staged attachment at path and extracts it.
func ExtractFile(path string) (IncidentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return IncidentRecord{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	return Extract(f, filepath.Base(path))
}

// Extract reads every Column entry of the dispatch XML in document order.
// The first FieldCount values fill the header template; later entries only
// take part in station matching.
func Extract(r io.Reader, source string) (IncidentRecord, error) {
	rec := IncidentRecord{Source: source, ReceivedAt: clock.Now().UTC()}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return IncidentRecord{}, &ParseError{Source: source, Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != columnElement {
			continue
		}

		entry := entryFromAttrs(start.Attr)
		if n := len(rec.Entries); n < FieldCount {
			rec.Fields[n] = entry.Value
		}
		rec.Entries = append(rec.Entries, entry)
	}

	if len(rec.Entries) == 0 {
		return IncidentRecord{}, &ParseError{Source: source, Err: errNoEntries}
	}
	return rec, nil
}

// entryFromAttrs prefers the name/value attributes and falls back to the
// first attribute for the value.
func entryFromAttrs(attrs []xml.Attr) Entry {
	var e Entry
	var hasValue bool
	for _, a := range attrs {
		switch a.Name.Local {
		case "name", "key":
			e.Key = a.Value
		case "value":
			e.Value = a.Value
			hasValue = true
		}
	}
	if !hasValue && len(attrs) > 0 {
		e.Value = attrs[0].Value
	}
	return e
}

// charsetReader decodes non-UTF-8 documents such as ISO-8859-1 exports.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q: unsupported", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
