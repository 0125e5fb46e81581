package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/docquery/gatekeeper/internal/app"
	"github.com/docquery/gatekeeper/internal/config"
	"github.com/docquery/gatekeeper/internal/security"
)

// main runs the CLI entrypoint and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("gatekeeper failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gatekeeper", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	hashPassword := fs.String("hash-password", "", "print the bcrypt hash of the given operator password and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if *hashPassword != "" {
		hash, errHash := security.HashPassword(*hashPassword)
		if errHash != nil {
			return errHash
		}
		fmt.Println(hash)
		return nil
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	rt, errLoad := config.Load(config.ResolveConfigPath(path))
	if errLoad != nil {
		return errLoad
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, errNew := app.New(rt, demoDownstream())
	if errNew != nil {
		return errNew
	}
	return application.Run(ctx)
}

// demoDownstream stands in for the protected application so the binary
// runs standalone. Deployments replace it by embedding app.New with their
// own handler.
func demoDownstream() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q,"method":%q}`, r.URL.Path, r.Method)
	})
}
