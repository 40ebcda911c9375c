package server

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)

	if err := DefaultServiceConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *ServiceConfig)
		want   error
	}{
		{"no listeners", func(c *ServiceConfig) {
			c.LDAPAddr, c.KerberosAddr, c.KerberosUDPAddr = "", "", ""
		}, ErrNoListeners},
		{"zero max pdu", func(c *ServiceConfig) { c.MaxPDUBytes = 0 }, ErrInvalidMaxPDU},
		{"negative read timeout", func(c *ServiceConfig) { c.ReadTimeout = -time.Second }, ErrInvalidTimeout},
		{"zero write timeout", func(c *ServiceConfig) { c.WriteTimeout = 0 }, ErrInvalidTimeout},
		{"ldaps without cert", func(c *ServiceConfig) { c.LDAPSAddr = ":636" }, ErrTLSCertFileRequired},
		{"ldaps without key", func(c *ServiceConfig) {
			c.LDAPSAddr = ":636"
			c.TLS.CertFile = "server.crt"
		}, ErrTLSKeyFileRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)

	cfg := ServiceConfig{LDAPAddr: ":389"}.WithDefaults()
	d := DefaultServiceConfig()
	if cfg.MaxPDUBytes != d.MaxPDUBytes || cfg.ReadTimeout != d.ReadTimeout || cfg.WriteTimeout != d.WriteTimeout {
		t.Fatalf("limits not defaulted: %+v", cfg)
	}
	if cfg.Realm != d.Realm || cfg.NodeID != d.NodeID {
		t.Fatalf("identity not defaulted: %+v", cfg)
	}
	if cfg.Backoff != d.Backoff {
		t.Fatalf("backoff not defaulted: %+v", cfg.Backoff)
	}
	if cfg.LDAPAddr != ":389" || cfg.KerberosAddr != "" {
		t.Fatalf("addresses must be kept as given: %+v", cfg)
	}
}

func TestBackoffDelay(t *testing.T) {
	testlog.Start(t)

	b := BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Delay(i+1, nil); got != w*time.Millisecond {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w*time.Millisecond, got)
		}
	}
	if got := b.Delay(0, nil); got != 10*time.Millisecond {
		t.Fatalf("attempt 0 should clamp to the first delay, got %s", got)
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config should not wait, got %s", got)
	}

	b.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= 8; attempt++ {
		got := b.Delay(attempt, rng)
		base := (BackoffConfig{InitialDelay: b.InitialDelay, Multiplier: b.Multiplier, MaxDelay: b.MaxDelay}).Delay(attempt, nil)
		if got < base/2 || got > base {
			t.Fatalf("attempt %d: jittered %s outside [%s, %s]", attempt, got, base/2, base)
		}
	}
}
