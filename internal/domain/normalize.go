package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// StrengthPrefix marks strength sessions, which land in CategoryOther.
	StrengthPrefix = "Strength: "

	fallbackKcalPerMinute = 8.0
)

// Classification is the result of mapping a provider sport tag.
type Classification struct {
	Category   Category
	NamePrefix string
}

var sportCategories = map[string]Category{
	"Run":               CategoryRun,
	"TrailRun":          CategoryRun,
	"VirtualRun":        CategoryRun,
	"Ride":              CategoryRide,
	"VirtualRide":       CategoryRide,
	"MountainBikeRide":  CategoryRide,
	"GravelRide":        CategoryRide,
	"EBikeRide":         CategoryRide,
	"EMountainBikeRide": CategoryRide,
	"Handcycle":         CategoryRide,
	"Velomobile":        CategoryRide,
	"Swim":              CategorySwim,
	"OpenWaterSwim":     CategorySwim,
}

var strengthSports = map[string]struct{}{
	"WeightTraining": {},
}

// Classify maps a provider sport tag to an internal category.
func Classify(sportType string) Classification {
	sportType = strings.TrimSpace(sportType)
	if category, ok := sportCategories[sportType]; ok {
		return Classification{Category: category}
	}
	if _, ok := strengthSports[sportType]; ok {
		return Classification{Category: CategoryOther, NamePrefix: StrengthPrefix}
	}
	return Classification{Category: CategoryOther}
}

// EstimateCalories prefers provider calories, then kilojoules (1 kJ taken as 1 kcal), then a
// flat rate over moving time.
func EstimateCalories(raw RawActivity) int {
	if raw.Calories != nil && *raw.Calories > 0 {
		return int(math.Round(*raw.Calories))
	}
	if raw.Kilojoules != nil && *raw.Kilojoules > 0 {
		return int(math.Round(*raw.Kilojoules))
	}
	minutes := float64(raw.MovingTime) / 60
	return int(math.Round(minutes * fallbackKcalPerMinute))
}

// DeriveTiming returns pace for runs and speed for rides and other activities. Swims get
// neither.
func DeriveTiming(raw RawActivity, category Category) (pace *int, speed *float64) {
	switch category {
	case CategoryRun:
		if raw.AverageSpeed > 0 {
			p := int(math.Round(1000 / raw.AverageSpeed))
			pace = &p
		}
	case CategorySwim:
	default:
		s := math.Round(raw.AverageSpeed*3.6*10) / 10
		speed = &s
	}
	return pace, speed
}

// Normalize maps a provider record onto the internal schema for userID.
func Normalize(raw RawActivity, userID string) Activity {
	sport := raw.SportType
	if sport == "" {
		sport = raw.Type
	}
	class := Classify(sport)
	pace, speed := DeriveTiming(raw, class.Category)

	activity := Activity{
		UserID:             userID,
		ProviderActivityID: strconv.FormatInt(raw.ID, 10),
		Source:             ProviderStrava,
		Category:           class.Category,
		Name:               class.NamePrefix + raw.Name,
		StartedAt:          raw.StartDate.UTC(),
		DurationSeconds:    raw.MovingTime,
		DistanceMeters:     raw.Distance,
		Calories:           EstimateCalories(raw),
		PaceSecondsPerKm:   pace,
		SpeedKmh:           speed,
	}

	if raw.TotalElevationGain > 0 {
		elevation := raw.TotalElevationGain
		activity.ElevationMeters = &elevation
	}
	if raw.AverageHeartrate != nil && *raw.AverageHeartrate > 0 {
		hr := int(math.Round(*raw.AverageHeartrate))
		activity.AvgHeartRate = &hr
	}
	return activity
}

// NormalizeAll normalizes a fetched page, stamping every row with the same sync time. A provider
// activity listed more than once keeps its first occurrence.
func NormalizeAll(raws []RawActivity, userID string, syncedAt time.Time) []Activity {
	out := make([]Activity, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		activity := Normalize(raw, userID)
		if _, dup := seen[activity.ProviderActivityID]; dup {
			continue
		}
		seen[activity.ProviderActivityID] = struct{}{}
		activity.SyncedAt = syncedAt
		out = append(out, activity)
	}
	return out
}
