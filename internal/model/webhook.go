package model

import "time"

// WebhookSubscription registers an external endpoint for an event type.
type WebhookSubscription struct {
	ID        int64     `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"eventType"`
	URL       string    `db:"url" json:"url"`
	Token     string    `db:"token" json:"token"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
