package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"hairgen/internal/hairgen"
	"hairgen/internal/infra"
)

// schemadump prints the model vocabulary the orchestrator would validate
// against, either the remote schema or the static defaults.
func main() {
	var remote bool
	var timeout time.Duration
	flag.BoolVar(&remote, "remote", false, "fetch the live schema instead of printing the static defaults")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "fetch timeout")
	flag.Parse()

	_ = godotenv.Load()

	schema := hairgen.DefaultSchema()
	if remote {
		cfg, err := infra.LoadConfig()
		if err != nil {
			panic(err)
		}
		logger := infra.NewLogger(cfg.AppEnv)
		client := hairgen.NewReplicateClient(hairgen.ReplicateOptions{
			BaseURL:  cfg.ReplicateBaseURL,
			APIToken: cfg.ReplicateAPIToken,
			Model:    cfg.ReplicateModel,
			Version:  cfg.ReplicateVersion,
			Logger:   logger,
		})
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cache := hairgen.NewSchemaCache(client, cfg.SchemaMaxAge, logger)
		schema = cache.Get(ctx, true)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(schema)
}
