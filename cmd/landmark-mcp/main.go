package main

import (
	"fmt"
	"os"

	"github.com/ironsheep/landmark-mcp/internal/config"
	"github.com/ironsheep/landmark-mcp/internal/server"
	"github.com/ironsheep/landmark-mcp/pkg/log"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("landmark-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("landmark-mcp - MCP server for cephalometric landmark tools")
			fmt.Println()
			fmt.Println("Usage: landmark-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables (also read from .env):")
			fmt.Println("  LANDMARK_MCP_LOG_LEVEL=debug          Log level (debug, info, warn, error)")
			fmt.Println("  LANDMARK_MCP_LOG_FILE=/var/log/x.log  Also log to a rotating file")
			fmt.Println("  LANDMARK_MCP_GRID_HEIGHT, _WIDTH      Model grid, default 800x640")
			fmt.Println("  LANDMARK_MCP_PATCH_HEIGHT, _WIDTH     Patch size, default 96x96")
			fmt.Println("  LANDMARK_MCP_SPACING=0.1              Pixel spacing in millimetres")
			fmt.Println("  LANDMARK_MCP_DOTENV=.env              Settings file to read")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "landmark-mcp: %v\n", err)
		os.Exit(1)
	}

	// The logger reads its settings from the environment, which .env may have
	// just populated.
	log.NewLogger()
	log.Debug(log.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}, "[main] starting landmark-mcp")

	server.Version = Version
	srv, err := server.New(cfg)
	if err != nil {
		log.Error(log.Fields{"error": err.Error()}, "[main] failed to create server")
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		log.Error(log.Fields{"error": err.Error()}, "[main] server error")
		os.Exit(1)
	}
}
