package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/dirauth/internal/protocol/codec"
)

var (
	ErrNoListeners         = errors.New("server: no listener address configured")
	ErrTLSCertFileRequired = errors.New("server: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("server: tls key file required")
	ErrInvalidMaxPDU       = errors.New("server: max pdu bytes out of range")
	ErrInvalidTimeout      = errors.New("server: timeout must be positive")
)

// BackoffConfig paces accept retries after temporary listener errors.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig holds the LDAPS certificate pair.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// ServiceConfig wires the directory and ticket listeners. An empty address
// disables that listener.
type ServiceConfig struct {
	NodeID          string
	LDAPAddr        string
	LDAPSAddr       string
	KerberosAddr    string
	KerberosUDPAddr string
	AdminAddr       string
	AdminToken      string
	CorsOrigins     []string
	Realm           string
	MaxPDUBytes     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TLS             TLSConfig
	Backoff         BackoffConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "dirauth.local",
		LDAPAddr:        ":3389",
		LDAPSAddr:       "",
		KerberosAddr:    ":8088",
		KerberosUDPAddr: ":8088",
		AdminAddr:       "127.0.0.1:7080",
		Realm:           "EXAMPLE.COM",
		MaxPDUBytes:     codec.DefaultMaxPDU,
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero limits and timeouts from DefaultServiceConfig.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = d.NodeID
	}
	if strings.TrimSpace(c.Realm) == "" {
		c.Realm = d.Realm
	}
	if c.MaxPDUBytes == 0 {
		c.MaxPDUBytes = d.MaxPDUBytes
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff = d.Backoff
	}
	return c
}

// Validate checks the listener set, limits and LDAPS key material.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.LDAPAddr) == "" && strings.TrimSpace(c.LDAPSAddr) == "" &&
		strings.TrimSpace(c.KerberosAddr) == "" && strings.TrimSpace(c.KerberosUDPAddr) == "" {
		return ErrNoListeners
	}
	if c.MaxPDUBytes <= 0 || c.MaxPDUBytes > 1<<31-1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPDU, c.MaxPDUBytes)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout=%s", ErrInvalidTimeout, c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout=%s", ErrInvalidTimeout, c.WriteTimeout)
	}
	return c.ValidateServerTransport()
}

// ValidateServerTransport requires a certificate pair when LDAPS is enabled.
func (c ServiceConfig) ValidateServerTransport() error {
	if strings.TrimSpace(c.LDAPSAddr) == "" {
		return nil
	}
	if strings.TrimSpace(c.TLS.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.TLS.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}
