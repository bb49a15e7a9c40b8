// Package events defines the payloads published to Kafka through the outbox.
package events

import "time"

// Event types and their topics.
const (
	TypeActivitySynced    = "activity.synced"
	TypeConnectionChanged = "strava.connection_changed"

	TopicActivitySynced    = "activity_synced"
	TopicConnectionChanged = "strava_connection_changed"
)

// Connection change kinds carried by ConnectionChanged.
const (
	ChangeConnected    = "connected"
	ChangeDisconnected = "disconnected"
)

// ActivitySynced is emitted once per activity row written by a sync.
type ActivitySynced struct {
	ActivityID         string    `json:"activity_id"`
	UserID             string    `json:"user_id"`
	ProviderActivityID string    `json:"provider_activity_id"`
	Source             string    `json:"source"`
	Category           string    `json:"category"`
	StartedAt          time.Time `json:"started_at"`
	DurationSeconds    int       `json:"duration_seconds"`
	Calories           int       `json:"calories"`
	SyncedAt           time.Time `json:"synced_at"`
}

// ConnectionChanged tracks a user linking or unlinking their Strava account.
type ConnectionChanged struct {
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	AthleteID  string    `json:"athlete_id,omitempty"`
	Change     string    `json:"change"`
	OccurredAt time.Time `json:"occurred_at"`
}
