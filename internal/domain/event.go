package domain

import "time"

// IncidentEvent is the record published to the incident feed once an
// attachment has been dispatched.
type IncidentEvent struct {
	ID             string    `json:"id"`
	IncidentNumber string    `json:"incident_number"`
	Keyword        string    `json:"keyword"`
	Source         string    `json:"source"`
	Stations       []string  `json:"stations"`
	Latitude       string    `json:"latitude,omitempty"`
	Longitude      string    `json:"longitude,omitempty"`
	MapLinks       *MapLinks `json:"map_links,omitempty"`
	Entries        []Entry   `json:"entries"`
	ReceivedAt     time.Time `json:"received_at"`
	DispatchedAt   time.Time `json:"dispatched_at"`
}

// NewIncidentEvent builds the feed record for rec and the stations it matched.
func NewIncidentEvent(id string, rec IncidentRecord, stations []string) IncidentEvent {
	ev := IncidentEvent{
		ID:             id,
		IncidentNumber: rec.Number(),
		Keyword:        rec.Keyword(),
		Source:         rec.Source,
		Stations:       append([]string{}, stations...),
		Entries:        rec.Entries,
		ReceivedAt:     rec.ReceivedAt,
		DispatchedAt:   clock.Now().UTC(),
	}
	if rec.HasCoordinates() {
		ev.Latitude, ev.Longitude = rec.Coordinates()
		links := BuildMapLinks(rec)
		ev.MapLinks = &links
	}
	return ev
}
