// Command app serves the business health classifier over HTTP and, when Kafka is
// enabled, scores the weekly metrics stream.
package main

import (
	"flag"
	"fmt"
	"os"

	"BizHealth/internal/di"
	"BizHealth/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "YAML config, overridden by environment variables")
	check := flag.Bool("check", false, "load the config and model artifacts, then exit")
	flag.Parse()

	if err := run(*configPath, *check); err != nil {
		fmt.Fprintln(os.Stderr, "bizhealth:", err)
		os.Exit(1)
	}
}

func run(configPath string, check bool) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	if check {
		fmt.Println("config and artifacts OK")
		return nil
	}
	return app.Run()
}
