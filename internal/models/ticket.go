package models

// Ticket is the local mirror of a storm work ticket.
type Ticket struct {
	ID              string   `json:"id"`
	TicketNumber    string   `json:"ticket_number"`
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	Address         string   `json:"address"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	AssignedTo      string   `json:"assigned_to,omitempty"`
	UtilityClient   string   `json:"utility_client"`
	WorkDescription string   `json:"work_description,omitempty"`
	SyncState
}

// RecordID returns the primary key.
func (t Ticket) RecordID() string { return t.ID }

// TableName returns the table name for Ticket.
func (Ticket) TableName() string {
	return "tickets"
}
