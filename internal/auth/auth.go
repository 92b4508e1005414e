package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing API credential")
)

// Environment variables holding the store credentials
const (
	EnvStore          = "SHOPIFY_STORE"
	EnvAPIKey         = "SHOPIFY_API_KEY"
	EnvAccessToken    = "SHOPIFY_ADMIN_API_ACCESS_TOKEN"
	EnvLegacyPassword = "SHOPIFY_PASSWORD"
)

// Credentials represents the authentication material for the target store
type Credentials struct {
	Store       string `json:"store"`
	APIKey      string `json:"api_key"`
	AccessToken string `json:"-"`
}

// FromEnv loads credentials from the process environment
func FromEnv() (Credentials, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup loads credentials through the given lookup function. The legacy
// private-app password is accepted when no admin access token is set.
func FromLookup(lookup func(string) (string, bool)) (Credentials, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	creds := Credentials{
		Store:       normalizeStore(get(EnvStore)),
		APIKey:      get(EnvAPIKey),
		AccessToken: get(EnvAccessToken),
	}
	if creds.AccessToken == "" {
		creds.AccessToken = get(EnvLegacyPassword)
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate reports every missing credential at once
func (c Credentials) Validate() error {
	var missing []string
	if c.Store == "" {
		missing = append(missing, EnvStore)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if c.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// BaseURL returns the HTTPS origin of the store admin API
func (c Credentials) BaseURL() string {
	return "https://" + c.Store
}

// Apply authenticates an outgoing request
func (c Credentials) Apply(req *http.Request) {
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)
	req.SetBasicAuth(c.APIKey, c.AccessToken)
}

func normalizeStore(store string) string {
	store = strings.TrimPrefix(store, "https://")
	store = strings.TrimPrefix(store, "http://")
	return strings.TrimRight(store, "/")
}
