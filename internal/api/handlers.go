// Package api exposes HTTP handlers for the Strava connection, sync and activity reads.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/fuelsync/internal/auth"
	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/persistence"
)

// Authorizer builds the provider consent URL.
type Authorizer interface {
	AuthorizationURL(state string) (string, error)
}

// Config carries the non-service dependencies of Handler.
type Config struct {
	Auth           auth.Config
	StateTTL       time.Duration
	AppRedirectURL string
	Logger         *log.Logger
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	authorizer  Authorizer
	connections *domain.ConnectionService
	syncer      *domain.SyncService
	energy      *domain.EnergyService
	cfg         Config
	logger      *log.Logger
	now         func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(authorizer Authorizer, connections *domain.ConnectionService, syncer *domain.SyncService, energy *domain.EnergyService, cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &Handler{
		authorizer:  authorizer,
		connections: connections,
		syncer:      syncer,
		energy:      energy,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/strava/connect", h.connect)
	mux.HandleFunc("/v1/strava/callback", h.callback)
	mux.HandleFunc("/v1/strava/sync", h.sync)
	mux.HandleFunc("/v1/strava/connection", h.connection)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/energy/daily", h.dailyEnergy)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	state, err := auth.IssueState(claims.Subject, h.cfg.StateTTL, h.now(), h.cfg.Auth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	authURL, err := h.authorizer.AuthorizationURL(state)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{AuthorizationURL: authURL})
}

// callback is the provider redirect target. It is unauthenticated; the signed state identifies
// the user. Every outcome ends in a browser redirect back to the app.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Printf("strava authorization denied: %s", providerErr)
		h.redirectToApp(w, r, "denied")
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		h.redirectToApp(w, r, "missing_code")
		return
	}
	userID, err := auth.ParseState(query.Get("state"), h.cfg.Auth)
	if err != nil {
		h.logger.Printf("strava callback rejected: %v", err)
		h.redirectToApp(w, r, "invalid_state")
		return
	}

	if _, err := h.connections.Connect(r.Context(), userID, code); err != nil {
		h.logger.Printf("strava connect for user %s failed: %v", userID, err)
		h.redirectToApp(w, r, domain.KindOf(err).String())
		return
	}

	// The initial import is best effort; the connection stands even if it fails.
	if result, err := h.syncer.Sync(r.Context(), userID); err != nil {
		h.logger.Printf("initial sync for user %s failed: %v", userID, err)
	} else {
		h.logger.Printf("initial sync for user %s stored %d activities", userID, result.SyncedCount)
	}
	h.redirectToApp(w, r, "connected")
}

func (h *Handler) redirectToApp(w http.ResponseWriter, r *http.Request, outcome string) {
	target, err := url.Parse(h.cfg.AppRedirectURL)
	if err != nil || h.cfg.AppRedirectURL == "" {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set("strava", outcome)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	result, err := h.syncer.Sync(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{SyncedCount: result.SyncedCount})
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
		if !ok {
			return
		}
		status, err := h.connections.Status(r.Context(), claims.Subject)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConnectionView(status))
	case http.MethodDelete:
		claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
		if !ok {
			return
		}
		if err := h.connections.Disconnect(r.Context(), claims.Subject); err != nil {
			h.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.syncer.ListActivities(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) dailyEnergy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	today := h.now().UTC().Truncate(24 * time.Hour)
	to := today.AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -7)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.DateOnly, raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "from must be YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.DateOnly, raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "to must be YYYY-MM-DD")
			return
		}
		// to is inclusive on the wire.
		to = to.AddDate(0, 0, 1)
	}

	days, err := h.energy.Daily(r.Context(), claims.Subject, from, to)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.writeDomainError(w, err)
		return
	}

	resp := DailyEnergyResponse{Days: make([]DailyEnergyView, 0, len(days))}
	for _, day := range days {
		resp.Days = append(resp.Days, DailyEnergyView{
			Day:           day.Day.Format(time.DateOnly),
			Calories:      day.Calories,
			ActivityCount: day.ActivityCount,
		})
		resp.TotalCalories += day.Calories
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if scope == auth.ScopeActivitiesRead && claims.HasScope(auth.ScopeActivitiesWrite) {
		return claims, true
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// writeDomainError maps the closed error taxonomy onto HTTP responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotConnected:
		writeError(w, http.StatusBadRequest, "not_connected", "strava account is not connected")
	case domain.KindNotConfigured:
		writeError(w, http.StatusServiceUnavailable, "not_configured", "strava integration is not configured")
	case domain.KindOAuthRefresh:
		writeError(w, http.StatusUnauthorized, "reauthorization_required", "strava authorization expired; reconnect your account")
	case domain.KindOAuthExchange:
		writeError(w, http.StatusBadGateway, "oauth_exchange_failed", err.Error())
	case domain.KindFetchActivities:
		writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
	case domain.KindStorage:
		h.logger.Printf("storage failure: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "storage failure")
	default:
		if errors.Is(err, domain.ErrMissingUserID) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// ConnectResponse carries the provider consent URL.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// SyncResponse reports how many activities a sync stored.
type SyncResponse struct {
	SyncedCount int `json:"synced_count"`
}

// ConnectionView describes the caller's provider connection.
type ConnectionView struct {
	Connected bool       `json:"connected"`
	AthleteID string     `json:"athlete_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scope     string     `json:"scope,omitempty"`
}

// ActivityView exposes a normalized activity.
type ActivityView struct {
	ActivityID         string    `json:"activity_id"`
	ProviderActivityID string    `json:"provider_activity_id"`
	Source             string    `json:"source"`
	Category           string    `json:"category"`
	Name               string    `json:"name"`
	StartedAt          time.Time `json:"started_at"`
	DurationSeconds    int       `json:"duration_seconds"`
	DistanceMeters     float64   `json:"distance_meters"`
	Calories           int       `json:"calories"`
	ElevationMeters    *float64  `json:"elevation_meters"`
	AvgHeartRate       *int      `json:"avg_heart_rate"`
	PaceSecondsPerKm   *int      `json:"pace_seconds_per_km"`
	SpeedKmh           *float64  `json:"speed_kmh"`
	SyncedAt           time.Time `json:"synced_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// DailyEnergyView is one day of calorie burn.
type DailyEnergyView struct {
	Day           string `json:"day"`
	Calories      int    `json:"calories"`
	ActivityCount int    `json:"activity_count"`
}

// DailyEnergyResponse lists per-day burn, oldest first.
type DailyEnergyResponse struct {
	Days          []DailyEnergyView `json:"days"`
	TotalCalories int               `json:"total_calories"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toConnectionView(status domain.ConnectionStatus) ConnectionView {
	view := ConnectionView{Connected: status.Connected, AthleteID: status.AthleteID, Scope: status.Scope}
	if status.Connected {
		expires := status.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:         a.ID,
		ProviderActivityID: a.ProviderActivityID,
		Source:             a.Source,
		Category:           string(a.Category),
		Name:               a.Name,
		StartedAt:          a.StartedAt,
		DurationSeconds:    a.DurationSeconds,
		DistanceMeters:     a.DistanceMeters,
		Calories:           a.Calories,
		ElevationMeters:    a.ElevationMeters,
		AvgHeartRate:       a.AvgHeartRate,
		PaceSecondsPerKm:   a.PaceSecondsPerKm,
		SpeedKmh:           a.SpeedKmh,
		SyncedAt:           a.SyncedAt,
	}
}
