package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_ID", "")
	t.Setenv("STRAVA_PAGE_SIZE", "not-a-number")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	cfg := Load()

	require.Equal(t, 30, cfg.Strava.PageSize)
	require.Equal(t, 10*time.Second, cfg.Strava.HTTPTimeout)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"activity_synced", "strava_connection_changed"}, cfg.ConsumerTopics)
	require.True(t, cfg.OutboxEnabled)
}

func TestStravaValidateNamesMissingSettings(t *testing.T) {
	err := Strava{ClientID: "123"}.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStravaNotConfigured))
	require.Contains(t, err.Error(), "STRAVA_CLIENT_SECRET")
	require.Contains(t, err.Error(), "STRAVA_REDIRECT_URI")
	require.NotContains(t, err.Error(), "STRAVA_CLIENT_ID")

	require.NoError(t, Strava{ClientID: "123", ClientSecret: "s", RedirectURI: "https://app/cb"}.Validate())
}
