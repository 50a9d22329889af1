// Package seismo reads and writes SAC waveforms, decodes miniSEED records and
// StationXML responses, and conditions traces (response removal, detrending,
// resampling).
//
// SAC files are written little-endian with header version 6; both byte orders
// are accepted on read. Undefined header values use the SAC sentinel -12345.
//
// Response removal follows the usual recipe: demean, 5% cosine taper,
// spectral division by the poles-and-zeros response scaled by the overall
// sensitivity, a 60 dB water level, and a four-corner cosine pre-filter.
package seismo
