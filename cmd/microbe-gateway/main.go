// ABOUTME: Entry point for microbe-gateway, the real-time DM sync server
// ABOUTME: Dispatches the serve, init, useradd, token, health and status subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/NightFury20/microbe-messaging/internal/config"
	"github.com/NightFury20/microbe-messaging/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _               _
  _ __ ___ (_) ___ _ __ ___ | |__   ___
 | '_ ' _ \| |/ __| '__/ _ \| '_ \ / _ \
 | | | | | | | (__| | | (_) | |_) |  __/
 |_| |_| |_|_|\___|_|  \___/|_.__/ \___|
`

// getConfigPath returns the path to the gateway config file.
// Priority: MICROBE_CONFIG env var > XDG_CONFIG_HOME/microbe/gateway.yaml > ~/.config/microbe/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MICROBE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "microbe", "gateway.yaml")
}

// getDataPath returns the path to the microbe data directory.
// Priority: XDG_DATA_HOME/microbe > ~/.local/share/microbe
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "microbe")
}

func usage() {
	fmt.Println("Usage: microbe-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the gateway server")
	fmt.Println("  init                         Create a new config file interactively")
	fmt.Println("  useradd --username NAME      Create a user account")
	fmt.Println("  token --username NAME        Issue an identity token for a user")
	fmt.Println("  health                       Check gateway health")
	fmt.Println("  status                       Show connected sessions")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A .env next to the binary is optional
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "useradd":
		err = runUserAdd(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "token":
		err = runToken(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)

	if cfg.Redis.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Redis:     ")
		cyan.Print(cfg.Redis.Addr)
		if cfg.RateLimit.Messages > 0 {
			yellow.Printf(" [limit %d/%s]", cfg.RateLimit.Messages, cfg.RateLimit.Window)
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting microbe-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// getEndpoint performs a GET against the configured gateway and returns the body.
func getEndpoint(ctx context.Context, path string) (int, []byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return 0, nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	status, _, err := getEndpoint(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	_, body, err := getEndpoint(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	fmt.Println(string(body))
	return nil
}
