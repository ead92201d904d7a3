package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
)

// Auth endpoint paths relative to the API root.
const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathProfile  = "/auth/profile"
	PathLogout   = "/auth/logout"
	PathRefresh  = "/auth/refresh"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register request body. Both the web client's field
// names and the auth service's are sent.
type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	FullName    string `json:"full_name,omitempty"`
	Role        string `json:"role"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Location    string `json:"location,omitempty"`
}

// AuthPayload is the normalized answer of login, register and refresh.
type AuthPayload struct {
	AccessToken  string
	RefreshToken string

	// User is nil when the backend did not send a profile.
	User *domain.User

	// Role is a top-level role field some backends send next to the tokens.
	Role string

	// ID is the top-level account ID register answers carry.
	ID string
}

// decodeAuthPayload folds the historical response shapes into AuthPayload:
// the access token may be named accessToken, access or token and the refresh
// token refreshToken or refresh.
func decodeAuthPayload(data []byte) (AuthPayload, error) {
	var raw struct {
		AccessToken  string          `json:"accessToken"`
		Access       string          `json:"access"`
		Token        string          `json:"token"`
		RefreshToken string          `json:"refreshToken"`
		Refresh      string          `json:"refresh"`
		Role         string          `json:"role"`
		ID           json.RawMessage `json:"id"`
		User         json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return AuthPayload{}, fmt.Errorf("%w: decode auth payload: %w", domain.ErrMalformedPayload, err)
	}

	p := AuthPayload{
		AccessToken:  firstNonEmpty(raw.AccessToken, raw.Access, raw.Token),
		RefreshToken: firstNonEmpty(raw.RefreshToken, raw.Refresh),
		Role:         raw.Role,
	}

	id, err := domain.ScalarString(raw.ID)
	if err != nil {
		return AuthPayload{}, fmt.Errorf("%w: decode auth id: %w", domain.ErrMalformedPayload, err)
	}
	p.ID = id

	if len(raw.User) > 0 && string(raw.User) != "null" {
		var u domain.User
		if err := json.Unmarshal(raw.User, &u); err != nil {
			return AuthPayload{}, fmt.Errorf("%w: decode auth user: %w", domain.ErrMalformedPayload, err)
		}
		p.User = &u
	}

	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Login submits credentials.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthPayload, error) {
	return c.authCall(ctx, PathLogin, creds)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg Registration) (AuthPayload, error) {
	return c.authCall(ctx, PathRegister, reg)
}

func (c *Client) authCall(ctx context.Context, path string, body any) (AuthPayload, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, nil, nil, body, &raw); err != nil {
		return AuthPayload{}, err
	}
	return decodeAuthPayload(raw)
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	body := map[string]string{"refreshToken": refreshToken, "refresh": refreshToken}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, PathRefresh, nil, nil, body, &raw); err != nil {
		return "", err
	}

	p, err := decodeAuthPayload(raw)
	if err != nil {
		return "", err
	}
	if p.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh answer carries no access token", domain.ErrMalformedPayload)
	}
	return p.AccessToken, nil
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context, ts TokenSource) (domain.User, error) {
	var u domain.User
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, PathProfile, nil, ts, nil, &raw); err != nil {
		return domain.User{}, err
	}
	if len(raw) == 0 {
		return domain.User{}, fmt.Errorf("%w: empty profile", domain.ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return u, nil
}

// UpdateProfile sends a partial profile and returns the fields the backend
// answered with.
func (c *Client) UpdateProfile(ctx context.Context, ts TokenSource, partial map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPatch, PathProfile, nil, ts, partial, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Logout invalidates the access token server-side.
func (c *Client) Logout(ctx context.Context, ts TokenSource) error {
	return c.do(ctx, http.MethodPost, PathLogout, nil, ts, nil, nil)
}
