package domain

import "time"

// eventIDLayout is year, day-of-year and UTC time of origin.
const eventIDLayout = "2006.002.15.04.05"

// Event is a catalog earthquake.
type Event struct {
	ID            string    `json:"id"`
	CatalogID     string    `json:"catalog_id,omitempty"`
	Origin        time.Time `json:"origin"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Depth         float64   `json:"depth_km"`
	Magnitude     float64   `json:"magnitude"`
	MagnitudeType string    `json:"magnitude_type,omitempty"`
	Region        string    `json:"region,omitempty"`
}

// EventID names an event directory after its origin time. Servers paired with
// the same catalog produce the same id for the same earthquake.
func EventID(origin time.Time) string {
	return origin.UTC().Format(eventIDLayout)
}

// EventSummary describes an event directory after processing. It is the
// payload of downstream "event ready" notifications.
type EventSummary struct {
	EventID     string    `json:"event_id"`
	Dir         string    `json:"dir"`
	Raw         int       `json:"raw"`
	Responses   int       `json:"responses"`
	Processed   int       `json:"processed"`
	ProcessedAt time.Time `json:"processed_at"`
}
