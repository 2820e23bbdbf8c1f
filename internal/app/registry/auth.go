package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/docker/distribution/registry/client/auth/challenge"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"
)

// dockerHubConfigKey is where docker login stores Docker Hub credentials.
const dockerHubConfigKey = "https://index.docker.io/v1/"

// tokenCache remembers the bearer token per registry host; a sync only talks
// to one repository, so the scope does not vary.
type tokenCache struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newTokenCache() *tokenCache {
	return &tokenCache{tokens: map[string]string{}}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (t *tokenCache) lookup(rawURL string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	token, ok := t.tokens[hostOf(rawURL)]
	return token, ok
}

func (t *tokenCache) store(rawURL string, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[hostOf(rawURL)] = token
}

// getDockerBasicAuth returns the basic auth header for the URL host from the
// docker config.json, or "" if there are no credentials for it.
func (c *Client) getDockerBasicAuth(rawURL string) string {
	if c.dockerConfig == nil {
		return ""
	}
	host := hostOf(rawURL)
	authConfig, ok := c.dockerConfig.AuthConfigs[host]
	if !ok {
		canonical := c.equivs.FindEquivalent(host)
		authConfig, ok = c.dockerConfig.AuthConfigs[canonical]
		if !ok && canonical == name.DefaultRegistry {
			authConfig, ok = c.dockerConfig.AuthConfigs[dockerHubConfigKey]
		}
	}
	if !ok || authConfig.Username == "" {
		return ""
	}
	creds := authConfig.Username + ":" + authConfig.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// getDockerBearerAuth answers a bearer challenge from the 401 response by
// asking the advertised token service for a token.
func (c *Client) getDockerBearerAuth(ctx context.Context, rawURL string, response *http.Response, basicAuth string) (string, error) {
	var params map[string]string
	for _, ch := range challenge.ResponseChallenges(response) {
		if strings.EqualFold(ch.Scheme, "bearer") {
			params = ch.Parameters
			break
		}
	}
	if params == nil {
		return "", &permanentError{err: errors.Errorf("unauthorized and no bearer challenge from %s", rawURL)}
	}
	realm, err := url.Parse(params["realm"])
	if err != nil || params["realm"] == "" {
		return "", &permanentError{err: errors.Errorf("invalid bearer realm %q", params["realm"])}
	}
	query := realm.Query()
	if service, ok := params["service"]; ok {
		query.Set("service", service)
	}
	if scope, ok := params["scope"]; ok {
		query.Set("scope", scope)
	}
	realm.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, realm.String(), nil)
	if err != nil {
		return "", &permanentError{err: err}
	}
	addHeaders(request, nil, basicAuth)
	tokenResp, err := c.client.Do(request)
	if err != nil {
		return "", errors.Wrap(err, "requesting bearer token")
	}
	defer drainAndClose(tokenResp)
	if tokenResp.StatusCode != http.StatusOK {
		return "", &statusError{url: realm.String(), status: tokenResp.StatusCode}
	}
	var token tokenResponse
	if err := json.NewDecoder(tokenResp.Body).Decode(&token); err != nil {
		return "", errors.Wrap(err, "decoding bearer token")
	}
	if token.Token == "" {
		token.Token = token.AccessToken
	}
	if token.Token == "" {
		return "", &permanentError{err: errors.New("token service returned an empty token")}
	}
	return "Bearer " + token.Token, nil
}
