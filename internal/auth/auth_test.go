package auth

import (
	"errors"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "empty input denied", stored: "abc", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Msgf("auth/static-token: stored=%q input=%q err=%v", tc.stored, tc.input, err)
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)

	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{header: "Bearer s3cret", want: "s3cret"},
		{header: "bearer  s3cret ", want: "s3cret"},
		{header: "", wantErr: ErrNoCredential},
		{header: "Bearer", wantErr: ErrNoCredential},
		{header: "Bearer   ", wantErr: ErrNoCredential},
		{header: "Basic dXNlcjpwdw==", wantErr: ErrNoCredential},
	}
	for _, tc := range tests {
		got, err := BearerToken(tc.header)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("header %q: expected err %v, got %v", tc.header, tc.wantErr, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: expected token %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestCheck(t *testing.T) {
	testlog.Start(t)

	v := StaticToken{Token: "s3cret"}
	if err := Check(v, "Bearer s3cret"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := Check(v, "Bearer nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	err := Check(v, "")
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected unauthorized missing credential, got %v", err)
	}
}
