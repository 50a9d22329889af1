package domain

import (
	"fmt"
	"slices"
	"strings"
)

// SACExtension is the suffix of every waveform file in the staging and canonical trees.
const SACExtension = "SAC"

// AllowedChannels lists the broadband, high-broadband and long-period channel
// codes accepted into an event's raw/ directory.
var AllowedChannels = []string{
	"HHZ", "BHZ", "LHZ",
	"HHN", "BHN", "LHN",
	"HHE", "BHE", "LHE",
	"HH1", "BH1", "LH1",
	"HH2", "BH2", "LH2",
}

// IsAllowedChannel reports whether a channel code is in AllowedChannels.
func IsAllowedChannel(channel string) bool {
	return slices.Contains(AllowedChannels, channel)
}

// TraceID identifies a recording by SEED network, station, location and channel.
type TraceID struct {
	Network  string `json:"network"`
	Station  string `json:"station"`
	Location string `json:"location,omitempty"`
	Channel  string `json:"channel"`
}

// FileName renders the waveform filename "NET.STA.LOC.CHA.SAC".
func (id TraceID) FileName() string {
	return strings.Join([]string{id.Network, id.Station, id.Location, id.Channel, SACExtension}, ".")
}

// ResponseFileName renders the response-metadata filename "STXML.NET.STA.CHA".
func (id TraceID) ResponseFileName() string {
	return strings.Join([]string{"STXML", id.Network, id.Station, id.Channel}, ".")
}

func (id TraceID) String() string {
	return strings.Join([]string{id.Network, id.Station, id.Location, id.Channel}, ".")
}

// ParseTraceFileName recovers the identity from a waveform filename. The
// network and station are the first two dot-separated fields and the channel
// is the field before the extension.
func ParseTraceFileName(name string) (TraceID, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 4 {
		return TraceID{}, fmt.Errorf("trace filename %q: want NET.STA.LOC.CHA.EXT", name)
	}
	id := TraceID{
		Network: parts[0],
		Station: parts[1],
		Channel: parts[len(parts)-2],
	}
	if len(parts) == 5 {
		id.Location = parts[2]
	}
	return id, nil
}
