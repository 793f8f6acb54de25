package domain

import (
	"strings"
	"time"
)

// FieldCount is the number of template slots filled from an attachment.
const FieldCount = 25

// Field positions in the header template.
const (
	FieldIncidentNumber = iota
	FieldDate
	FieldReporter
	FieldReporterPhone
	FieldReportChannel
	FieldKeyword
	FieldScene
	FieldCity
	FieldDistrict
	FieldStreet
	FieldHouseNumber
	FieldObject
	FieldSubObject
	FieldLocationExtra
	FieldLocationRemark
	FieldCauseRemark
	FieldCallbackNumber
	FieldCallbackRemark
	FieldHazardInfo
	FieldPlanInfo
	FieldFreeText
	FieldPostalCode
	FieldStreetSegment
	FieldLatitude
	FieldLongitude
)

// HeaderLabels are the labels of the template slots as the dispatch centre
// names them.
var HeaderLabels = [FieldCount]string{
	"Einsatznummer",
	"Datum",
	"Meldender",
	"NummerdesMeldenden",
	"Meldeweg",
	"Einsatzstichwort",
	"Meldebild",
	"Ort",
	"Ortsteil",
	"Strasse",
	"Hausnummer",
	"Objekt",
	"Unterobjekt",
	"Ortszusatz",
	"Bem.Einsatzort",
	"Bem.Einsatzanlass",
	"Rueckrufnummer",
	"RueckrufBemerkung",
	"Gefahrenmeldeanlage",
	"EinsatzplanInfo",
	"Infotext",
	"PLZ",
	"Strassenabschnitt",
	"Breitengrad",
	"Laengengrad",
}

// Entry is one key/value pair of the attachment in document order.
type Entry struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// IncidentRecord is the transient result of parsing one attachment.
// Fields holds the first FieldCount values by position; Entries keeps
// every entry for station matching.
type IncidentRecord struct {
	Source     string
	Fields     [FieldCount]string
	Entries    []Entry
	ReceivedAt time.Time
}

// Field returns the value at position i, or "" when i is out of range.
func (r IncidentRecord) Field(i int) string {
	if i < 0 || i >= FieldCount {
		return ""
	}
	return r.Fields[i]
}

// Number is the dispatch centre's incident number.
func (r IncidentRecord) Number() string { return r.Fields[FieldIncidentNumber] }

// Keyword is the incident keyword, e.g. "B2 Wohnungsbrand".
func (r IncidentRecord) Keyword() string { return r.Fields[FieldKeyword] }

// Coordinates returns latitude and longitude with all whitespace removed.
func (r IncidentRecord) Coordinates() (lat, lon string) {
	return stripSpace(r.Fields[FieldLatitude]), stripSpace(r.Fields[FieldLongitude])
}

// HasCoordinates reports whether both coordinates are non-empty.
func (r IncidentRecord) HasCoordinates() bool {
	lat, lon := r.Coordinates()
	return lat != "" && lon != ""
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
