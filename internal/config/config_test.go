package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dirauth/internal/server"
	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

func TestTemplatesParseAndValidate(t *testing.T) {
	testlog.Start(t)

	for _, kind := range []string{"default", "ldaps"} {
		text, err := Template(kind)
		if err != nil {
			t.Fatalf("template %s: %v", kind, err)
		}
		f, err := Parse([]byte(text))
		if err != nil {
			t.Fatalf("parse %s template: %v\n%s", kind, err, text)
		}
		if err := Validate(f); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
		if f.MaxPDUBytes != server.DefaultServiceConfig().MaxPDUBytes {
			t.Fatalf("%s template max_pdu_bytes=%d", kind, f.MaxPDUBytes)
		}
		if kind == "ldaps" && (f.LDAPSAddr == "" || f.TLS.CertFile == "") {
			t.Fatalf("ldaps template missing tls settings: %+v", f)
		}
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestTemplateCarriesDurations(t *testing.T) {
	testlog.Start(t)

	text, err := Template("default")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.Contains(text, "read_timeout") || !strings.Contains(text, "5m0s") {
		t.Fatalf("template missing read timeout:\n%s", text)
	}
	f, err := Parse([]byte(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, err := ParseDuration("read_timeout", f.ReadTimeout)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("unexpected read timeout %s err=%v", d, err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)

	if _, err := Parse([]byte("ldap_addr = \":389\"\nseeds = []\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name string
		file File
		want string
	}{
		{"bad addr", File{LDAPAddr: "localhost"}, "ldap_addr invalid"},
		{"negative pdu", File{MaxPDUBytes: -1}, "max_pdu_bytes"},
		{"bad duration", File{ReadTimeout: "soon"}, "read_timeout"},
		{"zero duration", File{WriteTimeout: "0s"}, "write_timeout must be positive"},
		{"ldaps without cert", File{LDAPSAddr: ":636"}, "tls.cert_file"},
		{"ldaps without key", File{LDAPSAddr: ":636", TLS: TLSFile{CertFile: "a.crt"}}, "tls.key_file"},
		{"blank origin", File{CorsOrigins: []string{" "}}, "cors_origins[0]"},
		{"origin without scheme", File{CorsOrigins: []string{"*", "ops.example"}}, "cors_origins[1]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.file)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Validate(File{}); err != nil {
		t.Fatalf("empty file should validate, got %v", err)
	}
}

func TestWriteTemplate(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "dirauth.toml")
	if err := WriteTemplate(path, "default", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	if err := WriteTemplate(path, "default", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "ldaps", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}
