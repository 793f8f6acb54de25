package domain

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	alertTitle   = "Einsatzalarm"
	ttsDirective = "/tts "

	googleMapsFormat = "https://maps.google.com/maps?q=%s,%s"
	osmandFormat     = "https://osmand.net/map?pin=%s,%s"
)

// fullReportFields are the labelled rows of the full report, in order.
var fullReportFields = []int{
	FieldKeyword,
	FieldScene,
	FieldCity,
	FieldDistrict,
	FieldStreet,
	FieldHouseNumber,
	FieldLocationRemark,
	FieldCauseRemark,
}

// botReportFields are the unlabelled rows of the voice report, headed by the keyword.
var botReportFields = []int{
	FieldScene,
	FieldCity,
	FieldDistrict,
	FieldStreet,
}

// MapLinks holds coordinate links; both are empty without coordinates.
type MapLinks struct {
	Google string `json:"google"`
	OsmAnd string `json:"osmand"`
}

// RenderedAlert holds the two messages derived from one incident.
type RenderedAlert struct {
	Full  string
	Bot   string
	Links MapLinks
}

// ForStation prefixes the full report with the station it is sent for.
func (a RenderedAlert) ForStation(station string) string {
	return fmt.Sprintf("Einsatz für: %s\n\n%s", station, a.Full)
}

// BuildMapLinks returns links for the record's coordinates, or zero links
// when either coordinate is empty after whitespace stripping.
func BuildMapLinks(rec IncidentRecord) MapLinks {
	if !rec.HasCoordinates() {
		return MapLinks{}
	}
	lat, lon := rec.Coordinates()
	return MapLinks{
		Google: fmt.Sprintf(googleMapsFormat, lat, lon),
		OsmAnd: fmt.Sprintf(osmandFormat, lat, lon),
	}
}

// Render builds the full and voice reports for rec.
func Render(rec IncidentRecord) RenderedAlert {
	links := BuildMapLinks(rec)

	rows := make([][]string, 0, len(fullReportFields)+1)
	rows = append(rows, []string{HeaderLabels[FieldDate], rec.Field(FieldDate)})
	for _, i := range fullReportFields {
		rows = append(rows, []string{HeaderLabels[i], rec.Field(i)})
	}

	botRows := make([][]string, 0, len(botReportFields)+1)
	botRows = append(botRows, []string{rec.Field(FieldKeyword)})
	for _, i := range botReportFields {
		botRows = append(botRows, []string{rec.Field(i)})
	}

	return RenderedAlert{
		Full:  fmt.Sprintf("%s\n\n%s\n\n%s\n%s", alertTitle, plainTable(rows), links.Google, links.OsmAnd),
		Bot:   fmt.Sprintf("%s\n%s\n\n%s", ttsDirective, alertTitle, plainTable(botRows)),
		Links: links,
	}
}

// cellReplacer flattens characters that would split a table cell or row.
var cellReplacer = strings.NewReplacer("\r\n", " ", "\t", " ", "\n", " ", "\r", " ")

// plainTable lays rows out as left-aligned columns without borders.
func plainTable(rows [][]string) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cellReplacer.Replace(cell)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush() //nolint:errcheck // strings.Builder never fails

	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.Join(lines, "\n")
}
