package models

import "time"

// Envelope is one pending outbound direct message on the shared queue.
type Envelope struct {
	ID          string    `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Payload     string    `json:"payload"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Origin      string    `json:"origin,omitempty"`
}
