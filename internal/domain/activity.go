package domain

import (
	"context"
	"time"
)

// Category is the closed set of internal activity categories.
type Category string

const (
	CategoryRun   Category = "Run"
	CategoryRide  Category = "Ride"
	CategorySwim  Category = "Swim"
	CategoryOther Category = "Other"
)

// RawActivity mirrors a summary activity returned by the Strava athlete activities listing.
type RawActivity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// SportType is the current Strava tag; Type is the legacy field still sent by the API.
	SportType          string    `json:"sport_type"`
	Type               string    `json:"type"`
	StartDate          time.Time `json:"start_date"`
	MovingTime         int       `json:"moving_time"`
	Distance           float64   `json:"distance"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageHeartrate   *float64  `json:"average_heartrate,omitempty"`
	AverageSpeed       float64   `json:"average_speed"`
	Kilojoules         *float64  `json:"kilojoules,omitempty"`
	Calories           *float64  `json:"calories,omitempty"`
}

// Activity is the normalized workout record stored per user.
type Activity struct {
	ID                 string
	UserID             string
	ProviderActivityID string
	Source             string
	Category           Category
	Name               string
	StartedAt          time.Time
	DurationSeconds    int
	DistanceMeters     float64
	Calories           int
	ElevationMeters    *float64
	AvgHeartRate       *int
	// Exactly one of PaceSecondsPerKm and SpeedKmh is set for Run and Ride/Other; Swim
	// carries neither.
	PaceSecondsPerKm *int
	SpeedKmh         *float64
	SyncedAt         time.Time
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// ActivityStore persists normalized activities.
type ActivityStore interface {
	// UpsertActivities writes all rows as one batch keyed on (UserID, ProviderActivityID) and
	// returns the number of rows written.
	UpsertActivities(ctx context.Context, activities []Activity) (int, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
}

// DailyEnergy is the summed calorie burn of one user for one calendar day (UTC).
type DailyEnergy struct {
	Day           time.Time
	Calories      int
	ActivityCount int
}

// EnergyStore records per-activity calorie burn for nutrition targets.
type EnergyStore interface {
	RecordActivityEnergy(ctx context.Context, userID, providerActivityID string, day time.Time, calories int) error
	DailyEnergy(ctx context.Context, userID string, from, to time.Time) ([]DailyEnergy, error)
}
