package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/config"
)

type (
	// Profile is the identity provider's view of a logged-in user.
	Profile struct {
		Sub      string `json:"sub"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Picture  string `json:"picture"`
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}

	// Auth0 wraps the three provider interactions the app needs: the
	// authorize redirect, the code-for-token exchange and the userinfo
	// fetch, plus the logout redirect URL.
	Auth0 struct {
		http         *resty.Client
		baseURL      string
		clientID     string
		clientSecret string
		callbackURL  string
	}
)

func NewAuth0(cfg *config.Config) *Auth0 {
	return &Auth0{
		http:         resty.New().SetTimeout(10 * time.Second),
		baseURL:      "https://" + cfg.Auth0Domain,
		clientID:     cfg.Auth0ClientID,
		clientSecret: cfg.Auth0ClientSecret,
		callbackURL:  cfg.Auth0CallbackURL,
	}
}

func (a *Auth0) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", a.clientID)
	params.Set("redirect_uri", a.callbackURL)
	params.Set("scope", "openid profile email")
	params.Set("state", state)
	return a.baseURL + "/authorize?" + params.Encode()
}

func (a *Auth0) LogoutURL(returnTo string) string {
	params := url.Values{}
	params.Set("returnTo", returnTo)
	params.Set("client_id", a.clientID)
	return a.baseURL + "/v2/logout?" + params.Encode()
}

// Exchange trades the authorization code delivered on the callback for an
// access token.
func (a *Auth0) Exchange(ctx context.Context, code string) (string, error) {
	result := tokenResponse{}
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"code":          code,
			"redirect_uri":  a.callbackURL,
		}).
		SetResult(&result).
		Post(a.baseURL + "/oauth/token")
	if err != nil {
		return "", errors.Wrap(apperr.ErrUpstreamUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		return "", errors.Wrapf(apperr.ErrUpstreamUnavailable, "token exchange returned %d", resp.StatusCode())
	}
	if result.AccessToken == "" {
		return "", errors.Wrap(apperr.ErrUpstreamUnavailable, "token exchange returned no access token")
	}
	return result.AccessToken, nil
}

func (a *Auth0) UserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	profile := Profile{}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&profile).
		Get(a.baseURL + "/userinfo")
	if err != nil {
		return nil, errors.Wrap(apperr.ErrUpstreamUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		return nil, errors.Wrapf(apperr.ErrUpstreamUnavailable, "userinfo returned %d", resp.StatusCode())
	}
	if profile.Sub == "" {
		return nil, errors.Wrap(apperr.ErrUpstreamUnavailable, "userinfo returned no subject")
	}
	return &profile, nil
}
