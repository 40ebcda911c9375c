// Package config describes the dirauthd TOML file: its keys, validation and
// starter templates.
package config

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/dirauth/internal/server"
)

// File is the on-disk layout of a dirauthd configuration. Durations are Go
// duration strings such as "15s".
type File struct {
	NodeID          string   `toml:"node_id"`
	Realm           string   `toml:"realm"`
	LDAPAddr        string   `toml:"ldap_addr"`
	LDAPSAddr       string   `toml:"ldaps_addr"`
	KerberosAddr    string   `toml:"kerberos_addr"`
	KerberosUDPAddr string   `toml:"kerberos_udp_addr"`
	AdminAddr       string   `toml:"admin_addr"`
	AdminToken      string   `toml:"admin_token"`
	CorsOrigins     []string `toml:"cors_origins"`
	MaxPDUBytes     int      `toml:"max_pdu_bytes"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	TLS             TLSFile  `toml:"tls"`
}

type TLSFile struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// FromService renders cfg in file form.
func FromService(cfg server.ServiceConfig) File {
	return File{
		NodeID:          cfg.NodeID,
		Realm:           cfg.Realm,
		LDAPAddr:        cfg.LDAPAddr,
		LDAPSAddr:       cfg.LDAPSAddr,
		KerberosAddr:    cfg.KerberosAddr,
		KerberosUDPAddr: cfg.KerberosUDPAddr,
		AdminAddr:       cfg.AdminAddr,
		AdminToken:      cfg.AdminToken,
		CorsOrigins:     cfg.CorsOrigins,
		MaxPDUBytes:     cfg.MaxPDUBytes,
		ReadTimeout:     cfg.ReadTimeout.String(),
		WriteTimeout:    cfg.WriteTimeout.String(),
		TLS: TLSFile{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
	}
}

// Render encodes f as TOML.
func Render(f File) (string, error) {
	b, err := toml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return string(b), nil
}

// Parse decodes TOML text, rejecting keys File does not declare.
func Parse(data []byte) (File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("config parse failed: %w", err)
	}
	return f, nil
}

// ParseDuration reads a duration key; empty means unset.
func ParseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

// Validate checks the values a file sets, independent of defaults.
func Validate(f File) error {
	addrs := []struct {
		key, value string
	}{
		{"ldap_addr", f.LDAPAddr},
		{"ldaps_addr", f.LDAPSAddr},
		{"kerberos_addr", f.KerberosAddr},
		{"kerberos_udp_addr", f.KerberosUDPAddr},
		{"admin_addr", f.AdminAddr},
	}
	for _, a := range addrs {
		if err := validateAddr(a.key, a.value); err != nil {
			return err
		}
	}
	if f.MaxPDUBytes < 0 {
		return fmt.Errorf("max_pdu_bytes must not be negative, got %d", f.MaxPDUBytes)
	}
	if _, err := ParseDuration("read_timeout", f.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("write_timeout", f.WriteTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(f.LDAPSAddr) != "" {
		if strings.TrimSpace(f.TLS.CertFile) == "" {
			return fmt.Errorf("tls.cert_file is required when ldaps_addr is set")
		}
		if strings.TrimSpace(f.TLS.KeyFile) == "" {
			return fmt.Errorf("tls.key_file is required when ldaps_addr is set")
		}
	}
	for i, origin := range f.CorsOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			return fmt.Errorf("cors_origins[%d] is empty", i)
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors_origins[%d] must be an http(s) origin or \"*\", got %q", i, origin)
		}
	}
	return nil
}

func validateAddr(key, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s invalid (%s): %w", key, addr, err)
	}
	return nil
}
