// Package domain models the incident data delivered by the dispatch centre.
//
// # Data Source
//
// Each alarm mail carries one XML attachment exported by the dispatch
// centre's incident system. Closing notices ("Einsatzabschluss") use the
// same format and are filtered out before they reach this package.
//
// # Attachment Format
//
// The export is a flat list of Column elements. Only the order of the
// elements is significant; their container elements vary between export
// versions and are ignored:
//
//	<Row>
//	  <Column name="Einsatznummer" value="2024-001234"/>
//	  <Column name="Datum" value="07.12.2024 14:31"/>
//	  ...
//	</Row>
//
// The value is read from the "value" attribute. Older exports carry a
// single unnamed attribute; its value is used instead.
//
// Position determines meaning. The first 25 values fill a fixed template
// (see [HeaderLabels]); positions 23 and 24 hold latitude and longitude in
// decimal degrees, sometimes with stray spaces. Exports with fewer columns
// leave the remaining slots empty. Additional columns are ignored for
// rendering but still searched for station names.
//
// Documents declared as ISO-8859-1 or Windows-1252 are decoded through
// golang.org/x/text before parsing.
//
// # Station Matching
//
// A subscribed station is affected when its name occurs, case-folded, as a
// substring of any column value. The dispatch centre writes the alerted
// units into keyword and free-text columns together with other text
// ("Wache1 Süd, RTW 2"), so exact comparison would miss them. The price is
// that a station named like a common word matches more often than wanted.
//
// # Rendering
//
// Two messages are built per incident: a full report for the station's
// group chat (labelled table plus map links) and a short voice report for
// text-to-speech bots, prefixed with the "/tts" directive.
package domain
