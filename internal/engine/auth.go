package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/revittco/toolgate/internal/invoke"
	"github.com/revittco/toolgate/internal/store"
)

// SecretSource resolves secret material for auth headers. Satisfied by
// secrets.Manager.
type SecretSource interface {
	Get(ctx context.Context, integrationID, key string) ([]byte, error)
}

// Default secret key names per auth scheme. An integration can point at
// different keys via its authentication config.
const (
	secretKeyAPIKey   = "api_key"
	secretKeyToken    = "access_token"
	secretKeyUsername = "username"
	secretKeyPassword = "password"
)

// buildAuth resolves an integration's auth scheme plus stored secrets into
// the credential material an invoker attaches to the call. Secrets only
// flow into the returned Auth value; they never touch logs or records.
func buildAuth(ctx context.Context, integ *store.Integration, src SecretSource) (invoke.Auth, error) {
	ac := integ.Authentication
	get := func(key string) (string, error) {
		v, err := src.Get(ctx, integ.ID, key)
		if err != nil {
			return "", err
		}
		return string(v), nil
	}

	switch ac.Type {
	case store.AuthNone, "":
		return invoke.Auth{Type: store.AuthNone}, nil

	case store.AuthAPIKey:
		key := authParam(ac, "secretKey", secretKeyAPIKey)
		val, err := get(key)
		if err != nil {
			return invoke.Auth{}, authError(integ.ID, key, err)
		}
		return invoke.Auth{
			Type:   store.AuthAPIKey,
			Header: authParam(ac, "header", "Authorization"),
			Value:  authParam(ac, "prefix", "") + val,
		}, nil

	case store.AuthOAuth:
		key := authParam(ac, "secretKey", secretKeyToken)
		token, err := get(key)
		if err != nil {
			return invoke.Auth{}, authError(integ.ID, key, err)
		}
		return invoke.Auth{
			Type:   store.AuthOAuth,
			Header: authParam(ac, "header", "Authorization"),
			Value:  "Bearer " + token,
		}, nil

	case store.AuthBasic:
		user := authParam(ac, "username", "")
		if user == "" {
			var err error
			user, err = get(secretKeyUsername)
			if err != nil {
				return invoke.Auth{}, authError(integ.ID, secretKeyUsername, err)
			}
		}
		pass, err := get(authParam(ac, "secretKey", secretKeyPassword))
		if err != nil {
			return invoke.Auth{}, authError(integ.ID, secretKeyPassword, err)
		}
		return invoke.Auth{Type: store.AuthBasic, Username: user, Password: pass}, nil

	default:
		return invoke.Auth{}, &Error{
			Code:    CodeAuth,
			Message: fmt.Sprintf("integration %s has unknown auth type %q", integ.ID, ac.Type),
		}
	}
}

func authParam(ac store.AuthConfig, key, fallback string) string {
	if v, ok := ac.Config[key]; ok && v != "" {
		return v
	}
	return fallback
}

func authError(integrationID, key string, err error) *Error {
	msg := fmt.Sprintf("resolve credential %q for %s", key, integrationID)
	if errors.Is(err, store.ErrNotFound) {
		msg = fmt.Sprintf("credential %q is not configured for %s", key, integrationID)
	}
	return &Error{Code: CodeAuth, Message: msg, Err: err}
}
