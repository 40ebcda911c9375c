package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/dirauth/internal/config"
	"github.com/danmuck/dirauth/internal/server"
)

// dirauthd loader for TOML config with default overlay.
func loadServiceConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load dirauth config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.ServiceConfig{}, fmt.Errorf("load dirauth config: unknown key %q", undecoded[0].String())
	}
	if err := config.Validate(raw); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load dirauth config: %w", err)
	}

	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("realm") {
		cfg.Realm = strings.TrimSpace(raw.Realm)
	}
	if meta.IsDefined("ldap_addr") {
		cfg.LDAPAddr = strings.TrimSpace(raw.LDAPAddr)
	}
	if meta.IsDefined("ldaps_addr") {
		cfg.LDAPSAddr = strings.TrimSpace(raw.LDAPSAddr)
	}
	if meta.IsDefined("kerberos_addr") {
		cfg.KerberosAddr = strings.TrimSpace(raw.KerberosAddr)
	}
	if meta.IsDefined("kerberos_udp_addr") {
		cfg.KerberosUDPAddr = strings.TrimSpace(raw.KerberosUDPAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("max_pdu_bytes") {
		cfg.MaxPDUBytes = raw.MaxPDUBytes
	}
	if meta.IsDefined("read_timeout") {
		if cfg.ReadTimeout, err = config.ParseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return server.ServiceConfig{}, fmt.Errorf("load dirauth config: %w", err)
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = config.ParseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return server.ServiceConfig{}, fmt.Errorf("load dirauth config: %w", err)
		}
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load dirauth config: %w", err)
	}
	return cfg, nil
}
