// Package domain models the requests, identities and on-disk layout of the
// surface-wave data download.
//
// # Requests
//
// A run is described by a calendar range, an origin-relative time window
// ([-preset, +offset] seconds), event and station regions, a magnitude range
// whose upper bound is fixed at 10, a depth range starting at 0 km, and a
// component filter. [BuildRequests] turns that description into one
// [Request] per FDSN server, each paired with the USGS event catalog so that
// every server sees the same earthquakes under the same ids.
//
// Regions are given as "xmin/xmax/ymin/ymax" (longitude then latitude),
// optionally in parentheses. Events default to the whole world and stations
// to Brazil.
//
// # File naming
//
// Waveforms are SAC files named after their SEED identity:
//
//	NET.STA.LOC.CHA.SAC   e.g. "BL.AQDB..BHZ.SAC"
//
// Only the network (first field), station (second field) and channel (field
// before the extension) take part in identity. Response metadata is stored as
// StationXML named "STXML.NET.STA.CHA".
//
// Event directories are named after the origin time as
// year.day-of-year.hour.minute.second, e.g. "2010.274.12.30.05".
//
// # Acceptance
//
// A trace enters an event's raw/ directory when its channel is one of the
// broadband (BH?), high-broadband (HH?) or long-period (LH?) codes in
// [AllowedChannels], its epicentral distance is at least the configured
// minimum (15 degrees by default), and no file of the same name is already
// there. The first server in list order wins a name collision; later copies
// are skipped, never merged.
//
// Distances come from the SAC "dist" header, in kilometres, converted to
// degrees on a sphere of radius [EarthRadiusKm].
package domain
