package main

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/engine"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/server"
)

// Exit codes: 0 clean, 1 configuration error, 2 startup IO failure.
const (
	exitOK     = 0
	exitConfig = 1
	exitIO     = 2
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfig)
	}
	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "cases":
		cases(os.Args[2:])
	case "validate-config":
		validateConfig(os.Args[2:])
	default:
		usage()
		os.Exit(exitConfig)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  satori serve [--config <satori.yaml>] [--input-root <dir>] [--output-root <dir>] [--listen <addr>]")
	fmt.Fprintln(os.Stderr, "  satori cases [--json] [--config <satori.yaml>] [--input-root <dir>] [--output-root <dir>]")
	fmt.Fprintln(os.Stderr, "  satori validate-config --config <satori.yaml>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "environment: INPUT_ROOT OUTPUT_ROOT LISTEN_ADDR MAX_WORKERS EXTRACTOR_CMD RENDERER_CMD PDF_CMD HYDRATED_SCHEMA")
}

// resolveConfig layers defaults, the optional YAML file, the environment,
// and CLI flags, in that order.
func resolveConfig(args []string) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	var configPath, inputRoot, outputRoot, listen string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				return cfg, fmt.Errorf("--config requires a value")
			}
			configPath = args[i]
		case "--input-root":
			i++
			if i >= len(args) {
				return cfg, fmt.Errorf("--input-root requires a value")
			}
			inputRoot = args[i]
		case "--output-root":
			i++
			if i >= len(args) {
				return cfg, fmt.Errorf("--output-root requires a value")
			}
			outputRoot = args[i]
		case "--listen":
			i++
			if i >= len(args) {
				return cfg, fmt.Errorf("--listen requires a value")
			}
			listen = args[i]
		default:
			return cfg, fmt.Errorf("unknown arg: %s", args[i])
		}
	}

	if configPath != "" {
		if err := engine.LoadConfigFile(&cfg, configPath); err != nil {
			return cfg, err
		}
	}
	if err := engine.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if inputRoot != "" {
		cfg.InputRoot = inputRoot
	}
	if outputRoot != "" {
		cfg.OutputRoot = outputRoot
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}
	return cfg, nil
}

func serve(args []string) {
	cfg, err := resolveConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIO)
	}
	srv := server.New(cfg.ListenAddr, eng)
	if err := eng.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIO)
	}

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIO)
	}
	os.Exit(exitOK)
}

func cases(args []string) {
	asJSON := false
	rest := args[:0:0]
	for _, a := range args {
		if a == "--json" {
			asJSON = true
			continue
		}
		rest = append(rest, a)
	}

	cfg, err := resolveConfig(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	// Listing never launches collaborators; only the roots are needed.
	if cfg.InputRoot == "" || cfg.OutputRoot == "" {
		fmt.Fprintln(os.Stderr, "input_root and output_root are required")
		os.Exit(exitConfig)
	}
	if cfg.ExtractorCmd == "" {
		cfg.ExtractorCmd = "true"
	}
	if cfg.RendererCmd == "" {
		cfg.RendererCmd = "true"
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIO)
	}
	defer eng.Close()

	list, err := eng.ListCases()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIO)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(list); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitIO)
		}
		os.Exit(exitOK)
	}
	for _, c := range list {
		line := fmt.Sprintf("%s\t%s\t%d files", c.ID, c.Status, len(c.Files))
		if agg := c.QualityAggregate(); agg != nil {
			line += fmt.Sprintf("\tquality=%d", *agg)
		}
		if s := c.ErrorSummary(); s != "" {
			line += "\t" + s
		}
		fmt.Println(line)
	}
	os.Exit(exitOK)
}

func validateConfig(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(exitConfig)
			}
			configPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitConfig)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(exitConfig)
	}

	cfg := engine.DefaultConfig()
	if err := engine.LoadConfigFile(&cfg, configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	if err := engine.ApplyEnv(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	fmt.Printf("ok: %s\n", configPath)
	os.Exit(exitOK)
}
