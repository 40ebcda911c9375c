package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/dirauth/internal/admin"
	"github.com/danmuck/dirauth/internal/config"
	"github.com/danmuck/dirauth/internal/kerberos"
	"github.com/danmuck/dirauth/internal/ldap"
	"github.com/danmuck/dirauth/internal/observability"
	"github.com/danmuck/dirauth/internal/server"
)

type options struct {
	configPath  string
	printConfig bool
	writeConfig string
	kind        string
	force       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to dirauthd TOML config (built-in defaults when empty)")
	flag.BoolVar(&opts.printConfig, "print-config", false, "print the effective config and exit")
	flag.StringVar(&opts.writeConfig, "write-config", "", "write a starter config to this path and exit")
	flag.StringVar(&opts.kind, "kind", "default", "starter config kind for -write-config: default|ldaps")
	flag.BoolVar(&opts.force, "force", false, "overwrite an existing file with -write-config")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dirauthd: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer) error {
	if opts.writeConfig != "" {
		if err := config.WriteTemplate(opts.writeConfig, opts.kind, opts.force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s config template to %s\n", opts.kind, opts.writeConfig)
		return nil
	}

	cfg := server.DefaultServiceConfig()
	if strings.TrimSpace(opts.configPath) != "" {
		loaded, err := loadServiceConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.printConfig {
		text, err := config.Render(config.FromService(cfg))
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, text)
		return err
	}

	logger := observability.InitLogger("dirauthd")
	// Build every grammar now so a bad table fails startup, not a client.
	ldap.Grammars()
	kerberos.Grammars()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := server.NewService(cfg)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		api := admin.New(admin.ConfigFrom(cfg), svc)
		g.Go(func() error { return api.Run(gctx) })
	}
	logger.Info().Msgf("dirauthd.run node_id=%q realm=%q max_pdu_bytes=%d", cfg.NodeID, cfg.Realm, cfg.MaxPDUBytes)
	return g.Wait()
}
