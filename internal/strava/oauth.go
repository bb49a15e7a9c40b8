// Package strava talks to the Strava OAuth and REST endpoints.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/fuelsync/internal/config"
	"example.com/fuelsync/internal/domain"
)

const maxErrorBody = 4 << 10

// OAuthClient performs the authorization-code and refresh-token flows. It never retries: codes
// are single use and retry policy belongs to callers.
type OAuthClient struct {
	cfg        config.Strava
	httpClient *http.Client
}

// NewOAuthClient constructs an OAuthClient. An incomplete configuration is accepted here and
// reported by each operation.
func NewOAuthClient(cfg config.Strava, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeoutOrDefault(cfg.HTTPTimeout)}
	}
	return &OAuthClient{cfg: cfg, httpClient: httpClient}
}

// Configured reports whether client id, secret and redirect URI are all set.
func (c *OAuthClient) Configured() error {
	if err := c.cfg.Validate(); err != nil {
		return &domain.Error{Kind: domain.KindNotConfigured, Op: "strava oauth", Err: err}
	}
	return nil
}

// AuthorizationURL builds the provider authorize URL carrying state.
func (c *OAuthClient) AuthorizationURL(state string) (string, error) {
	if err := c.Configured(); err != nil {
		return "", err
	}
	oc := &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		// Strava expects the comma separated scope list as a single value.
		Scopes:   []string{c.cfg.Scope},
		Endpoint: oauth2.Endpoint{AuthURL: c.cfg.AuthURL, TokenURL: c.cfg.TokenURL},
	}
	prompt := c.cfg.ApprovalPrompt
	if prompt == "" {
		prompt = "auto"
	}
	return oc.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", prompt)), nil
}

// Exchange trades an authorization code for a token grant including the athlete id.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (domain.TokenGrant, error) {
	if err := c.Configured(); err != nil {
		return domain.TokenGrant{}, err
	}
	return c.tokenRequest(ctx, domain.KindOAuthExchange, tokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Code:         code,
		GrantType:    "authorization_code",
	})
}

// Refresh trades a refresh token for a new grant. The provider may rotate the refresh token.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	if err := c.Configured(); err != nil {
		return domain.TokenGrant{}, err
	}
	return c.tokenRequest(ctx, domain.KindOAuthRefresh, tokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	})
}

// Deauthorize revokes the application's access for the athlete owning accessToken.
func (c *OAuthClient) Deauthorize(ctx context.Context, accessToken string) error {
	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DeauthorizeURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("deauthorize failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Athlete      *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

func (c *OAuthClient) tokenRequest(ctx context.Context, kind domain.ErrorKind, payload tokenRequest) (domain.TokenGrant, error) {
	op := "strava " + payload.GrantType
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return domain.TokenGrant{}, &domain.Error{Kind: kind, Op: op, Err: fmt.Errorf("token response without access_token")}
	}

	grant := domain.TokenGrant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Scope:        tr.Scope,
	}
	switch {
	case tr.ExpiresAt > 0:
		grant.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0:
		grant.ExpiresAt = time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.Athlete != nil && tr.Athlete.ID != 0 {
		grant.AthleteID = strconv.FormatInt(tr.Athlete.ID, 10)
	}
	return grant, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
