package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fuelsync/internal/events"
)

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(42, []byte(`{"a":1}`))
	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, `{"a":1}`, string(frame[5:]))
}

func TestPublishFramesRecordsAndCachesSchemaIDs(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 7}
	d := NewDispatcher(nil, writer, registry, time.Second, 10)

	msgs := []Message{
		{EventID: 1, AggregateID: "a1", EventType: events.TypeActivitySynced, Topic: events.TopicActivitySynced, SchemaSubject: "activity_synced-value", PartitionKey: "u1", Payload: []byte(`{"activity_id":"a1"}`)},
		{EventID: 2, AggregateID: "a2", EventType: events.TypeActivitySynced, Topic: events.TopicActivitySynced, SchemaSubject: "activity_synced-value", PartitionKey: "u1", Payload: []byte(`{"activity_id":"a2"}`)},
		{EventID: 3, AggregateID: "u1", EventType: events.TypeConnectionChanged, Topic: events.TopicConnectionChanged, SchemaSubject: "strava_connection_changed-value", PartitionKey: "u1", Payload: []byte(`{}`)},
	}

	require.NoError(t, d.publish(context.Background(), msgs))
	require.NoError(t, d.publish(context.Background(), msgs[:1]))

	require.Equal(t, []string{"activity_synced-value", "strava_connection_changed-value"}, registry.subjects)
	require.Len(t, writer.batches, 2)
	require.Len(t, writer.batches[0], 3)

	record := writer.batches[0][0]
	require.Equal(t, events.TopicActivitySynced, record.Topic)
	require.Equal(t, "u1", string(record.Key))
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, `{"activity_id":"a1"}`, string(record.Value[5:]))

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		HeaderEventType:     events.TypeActivitySynced,
		HeaderSchemaSubject: "activity_synced-value",
		HeaderAggregateID:   "a1",
	}, headers)

	require.Equal(t, events.TopicConnectionChanged, writer.batches[0][2].Topic)
}

func TestPublishRejectsUnknownEventType(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 7}
	d := NewDispatcher(nil, writer, registry, time.Second, 10)

	err := d.publish(context.Background(), []Message{{EventType: "activity.unknown", Topic: "x"}})
	require.ErrorContains(t, err, "no schema metadata for event_type=activity.unknown")
	require.Empty(t, writer.batches)
	require.Empty(t, registry.subjects)
}

func TestPublishDoesNotCacheRegistryFailures(t *testing.T) {
	registry := &stubRegistry{err: errors.New("registry down")}
	d := NewDispatcher(nil, &stubWriter{}, registry, time.Second, 10)
	msg := Message{EventType: events.TypeActivitySynced, Topic: events.TopicActivitySynced, SchemaSubject: "activity_synced-value"}

	require.ErrorContains(t, d.publish(context.Background(), []Message{msg}), "registry down")

	registry.err = nil
	registry.id = 3
	require.NoError(t, d.publish(context.Background(), []Message{msg}))
	require.Len(t, registry.subjects, 2)
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	m := NewDLQManager(nil, 3, time.Minute)
	require.Equal(t, time.Minute, m.backoffDelay(0))
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, 32*time.Minute, m.backoffDelay(6))
	require.Equal(t, time.Hour, m.backoffDelay(7))
	require.Equal(t, time.Hour, m.backoffDelay(60))
}

func TestReplayable(t *testing.T) {
	require.NoError(t, replayable(dlqEntry{EventType: events.TypeActivitySynced, SchemaSubject: "activity_synced-value"}))
	require.ErrorContains(t, replayable(dlqEntry{EventType: events.TypeActivitySynced}), "missing schema_subject")
	require.ErrorContains(t, replayable(dlqEntry{EventType: "nope", SchemaSubject: "s"}), `unknown event_type "nope"`)
}
