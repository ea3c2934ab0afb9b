package config

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// TokenEnv overrides every other token source.
	TokenEnv = "LABVPN_TOKEN"

	keyringService = "labvpn"
	keyringUser    = "api-token"
)

// ErrNoToken is returned when no API token is configured anywhere.
var ErrNoToken = errors.New("no API token: set " + TokenEnv + ", api.token, or run `labvpn token set`")

// Keyring is the secret store the token is read from and written to.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
}

// SystemKeyring stores secrets in the OS keyring.
type SystemKeyring struct{}

func (SystemKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (SystemKeyring) Set(service, user, secret string) error {
	return keyring.Set(service, user, secret)
}

// ResolveToken looks up the API token from the environment, the config file
// and finally the keyring.
func ResolveToken(cfg Config, kr Keyring) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(cfg.API.Token); tok != "" {
		return tok, nil
	}
	if kr == nil {
		return "", ErrNoToken
	}
	tok, err := kr.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", err
	}
	if strings.TrimSpace(tok) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(tok), nil
}

// StoreToken saves the API token in the keyring.
func StoreToken(kr Keyring, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	return kr.Set(keyringService, keyringUser, token)
}
