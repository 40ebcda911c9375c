// Package auth guards the admin surface with a shared token.
//
// Directory and ticket authentication decisions live with the handlers, not here.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrNoCredential = errors.New("auth: missing bearer credential")
)

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts a single shared token. An empty Token denies everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoCredential
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// Check validates the bearer credential in header against v.
func Check(v Validator, header string) error {
	token, err := BearerToken(header)
	if err != nil {
		return errors.Join(ErrUnauthorized, err)
	}
	return v.Validate(token)
}
