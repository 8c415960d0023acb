// imebridge - Input method bridge between a UI toolkit and an out-of-process
// text engine
//
//	imebridge run              Serve the engine link and export the editable
//	imebridge journal          Show journalled traffic of a session
//	imebridge config           Print the effective configuration
package main

import (
	"flag"
	"fmt"
	"os"

	"imebridge/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		cmdRun()
	case "journal":
		cmdJournal()
	case "config":
		cmdConfig()
	case "version":
		fmt.Printf("imebridge %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`imebridge - Input method bridge

USAGE:
    imebridge <command> [options]

COMMANDS:
    run                 Connect to the engine and serve the focused editable
    journal             Show journalled traffic for a session
    config              Print the effective configuration as TOML
    version             Print the version
    help                Show this help message

CONFIGURATION:
    The configuration is read from $XDG_CONFIG_HOME/imebridge/config.toml
    unless -config is given. JSON and YAML files are accepted by extension.
    IMEBRIDGE_* environment variables override the file.

EXAMPLES:
    imebridge run -socket /run/user/1000/engine.sock
    imebridge journal -session 3
    imebridge config > ~/.config/imebridge/config.toml`)
}

func cmdConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file (default: "+config.ConfigPath()+")")
	format := fs.String("format", "toml", "Output format: toml, json, yaml")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	data, err := config.Encode(cfg, "."+*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}
