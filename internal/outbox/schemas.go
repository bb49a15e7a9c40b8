package outbox

const activitySyncedSchema = `{
  "type": "object",
  "title": "ActivitySynced",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider_activity_id": {"type": "string"},
    "source": {"type": "string"},
    "category": {"type": "string", "enum": ["Run", "Ride", "Swim", "Other"]},
    "started_at": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer"},
    "calories": {"type": "integer"},
    "synced_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "provider_activity_id", "source", "category", "started_at", "duration_seconds", "calories", "synced_at"],
  "additionalProperties": false
}`

const connectionChangedSchema = `{
  "type": "object",
  "title": "StravaConnectionChanged",
  "properties": {
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "athlete_id": {"type": "string"},
    "change": {"type": "string", "enum": ["connected", "disconnected"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "provider", "change", "occurred_at"],
  "additionalProperties": false
}`
