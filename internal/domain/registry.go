package domain

import (
	"fmt"
	"strings"
)

// ChannelKind selects one of a station's notification channels.
type ChannelKind int

const (
	// ChannelPrimary receives the full report.
	ChannelPrimary ChannelKind = iota
	// ChannelBot receives the short voice report.
	ChannelBot
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelPrimary:
		return "primary"
	case ChannelBot:
		return "bot"
	default:
		return fmt.Sprintf("ChannelKind(%d)", int(k))
	}
}

type stationChannels struct {
	name    string
	primary string
	bot     string
}

// Registry maps subscribed station names to their channel ids. It is built
// once at startup and never mutated.
type Registry struct {
	stations []stationChannels
	index    map[string]int // folded name -> position
}

// NewRegistry builds a registry from three positionally aligned lists.
// Lists of different length are a configuration fault. Empty channel ids
// are kept and resolve to absent on lookup.
func NewRegistry(names, primary, bot []string) (*Registry, error) {
	if len(names) != len(primary) || len(names) != len(bot) {
		return nil, fmt.Errorf("%w: station lists differ in length: %d names, %d primary channels, %d bot channels",
			ErrConfig, len(names), len(primary), len(bot))
	}

	r := &Registry{
		stations: make([]stationChannels, 0, len(names)),
		index:    make(map[string]int, len(names)),
	}
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, fmt.Errorf("%w: station name at position %d is empty", ErrConfig, i)
		}
		key := foldKey(name)
		if _, dup := r.index[key]; dup {
			return nil, fmt.Errorf("%w: station %q is listed twice", ErrConfig, name)
		}
		r.index[key] = len(r.stations)
		r.stations = append(r.stations, stationChannels{
			name:    name,
			primary: strings.TrimSpace(primary[i]),
			bot:     strings.TrimSpace(bot[i]),
		})
	}
	return r, nil
}

// Lookup returns the channel id of the given kind for station. The second
// result is false for unknown stations, unknown kinds and empty ids.
func (r *Registry) Lookup(station string, kind ChannelKind) (string, bool) {
	i, ok := r.index[foldKey(strings.TrimSpace(station))]
	if !ok {
		return "", false
	}
	var id string
	switch kind {
	case ChannelPrimary:
		id = r.stations[i].primary
	case ChannelBot:
		id = r.stations[i].bot
	default:
		return "", false
	}
	return id, id != ""
}

// Stations returns the station names in configuration order.
func (r *Registry) Stations() []string {
	out := make([]string, len(r.stations))
	for i, s := range r.stations {
		out[i] = s.name
	}
	return out
}

// Len returns the number of registered stations.
func (r *Registry) Len() int { return len(r.stations) }
