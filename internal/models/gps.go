package models

import "time"

// GPSLocation is a breadcrumb logged while a subcontractor works a ticket.
type GPSLocation struct {
	ID              string    `json:"id"`
	TicketID        string    `json:"ticket_id,omitempty"`
	SubcontractorID string    `json:"subcontractor_id,omitempty"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Accuracy        float64   `json:"accuracy"`
	Altitude        *float64  `json:"altitude,omitempty"`
	Heading         *float64  `json:"heading,omitempty"`
	Speed           *float64  `json:"speed,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	SyncState
}

// RecordID returns the primary key.
func (g GPSLocation) RecordID() string { return g.ID }

// TableName returns the table name for GPSLocation.
func (GPSLocation) TableName() string {
	return "gps_locations"
}
