package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/fuelsync/internal/config"
	"example.com/fuelsync/internal/domain"
)

// maxPageSize is the largest per_page the activities listing accepts.
const maxPageSize = 200

// Client reads athlete data from the Strava REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryDelay time.Duration
}

// NewClient constructs a Client with the configured base URL and timeout.
func NewClient(cfg config.Strava, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeoutOrDefault(cfg.HTTPTimeout)}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: httpClient,
		retryDelay: 250 * time.Millisecond,
	}
}

// FetchRecentActivities returns up to pageSize of the athlete's activities, most recent first.
// A transport failure is retried once; an HTTP error status is not.
func (c *Client) FetchRecentActivities(ctx context.Context, accessToken string, pageSize int) ([]domain.RawActivity, error) {
	const op = "strava list activities"
	if pageSize <= 0 {
		pageSize = domain.DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := url.Values{
		"per_page": {strconv.Itoa(pageSize)},
		"page":     {"1"},
	}
	endpoint := fmt.Sprintf("%s/athlete/activities?%s", c.baseURL, query.Encode())

	var activities []domain.RawActivity
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return backoff.Permanent(&domain.Error{Kind: domain.KindFetchActivities, Op: op, StatusCode: resp.StatusCode, Body: string(body)})
		}

		var page []domain.RawActivity
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return backoff.Permanent(fmt.Errorf("decode activities: %w", err))
		}
		activities = page
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if domain.KindOf(err) == domain.KindFetchActivities {
			return nil, err
		}
		return nil, &domain.Error{Kind: domain.KindFetchActivities, Op: op, Err: err}
	}

	if len(activities) > pageSize {
		activities = activities[:pageSize]
	}
	return activities, nil
}
