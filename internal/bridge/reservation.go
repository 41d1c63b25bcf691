// Package bridge orchestrates one sync: drive the booking site in a browser,
// extract reservations, and push them to the scheduling platform.
package bridge

import "time"

// Reservation is one booking scraped from the site's schedule view.
type Reservation struct {
	Reference string    `json:"reference"`
	Guest     string    `json:"guest"`
	Resource  string    `json:"resource"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Party     int       `json:"party"`
	Notes     string    `json:"notes,omitempty"`
}
