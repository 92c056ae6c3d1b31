package config

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service/key for the OS keyring.
const (
	keyringService = "comicpost"
	keyringToken   = "vk_access_token"
)

// ErrNoToken means the keyring holds no VK token.
var ErrNoToken = errors.New("no token in keyring")

// Tokens is the VK token store used by Load and the token command.
var Tokens = &TokenStore{service: keyringService, key: keyringToken}

// TokenStore keeps one secret in the OS keyring via github.com/zalando/go-keyring.
// Tests swap the backend with keyring.MockInit().
type TokenStore struct {
	service string
	key     string
}

func (s *TokenStore) Get() (string, error) {
	tok, err := keyring.Get(s.service, s.key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tok), nil
}

func (s *TokenStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	return keyring.Set(s.service, s.key, token)
}

// Delete is a no-op when nothing is stored.
func (s *TokenStore) Delete() error {
	err := keyring.Delete(s.service, s.key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
