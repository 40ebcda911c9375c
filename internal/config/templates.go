package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/dirauth/internal/server"
)

// Template renders a starter configuration. "default" serves LDAP and
// Kerberos in the clear; "ldaps" adds the TLS listener and key paths.
func Template(kind string) (string, error) {
	cfg := server.DefaultServiceConfig()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "default":
	case "ldaps":
		cfg.LDAPSAddr = ":3636"
		cfg.TLS = server.TLSConfig{
			CertFile: "/etc/dirauth/server.crt",
			KeyFile:  "/etc/dirauth/server.key",
		}
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	cfg.CorsOrigins = []string{"http://localhost:3000"}
	return Render(FromService(cfg))
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
