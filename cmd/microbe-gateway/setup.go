// ABOUTME: Setup subcommands: interactive config init, user creation and token issue
// ABOUTME: Operate on the store directly so they work before the server has run

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/NightFury20/microbe-messaging/internal/auth"
	"github.com/NightFury20/microbe-messaging/internal/config"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

const maxUsernameLength = 64

// openStore opens the configured store without starting a gateway.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return store.NewPostgresStore(ctx, cfg.Database.DSN)
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

// generateSecret returns a random base64 secret long enough for HS256.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 48)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "microbe-gateway configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", "localhost:8080")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	driver := prompt(reader, out, "Database driver (sqlite/postgres)", config.DefaultDriver)
	var dbPath, dsn string
	if driver == "postgres" {
		dsn = prompt(reader, out, "Postgres DSN", "postgres://localhost:5432/microbe")
	} else {
		dbPath = prompt(reader, out, "SQLite database path", defaultDbPath)
	}

	fmt.Fprintln(out, "\n--- Redis Configuration ---")
	redisAddr := prompt(reader, out, "Redis address for multi-instance relay (leave empty to disable)", "")
	rateLimit := "0"
	if redisAddr != "" {
		rateLimit = prompt(reader, out, "Messages per user per minute (0 disables)", "60")
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# microbe-gateway configuration\n")
	cfg.WriteString("# Generated by microbe-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	if dsn != "" {
		cfg.WriteString(fmt.Sprintf("  dsn: %q\n", dsn))
	} else {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", secret))
	cfg.WriteString("  token_ttl: \"1h\"\n")
	cfg.WriteString("\n")

	if redisAddr != "" {
		cfg.WriteString("redis:\n")
		cfg.WriteString(fmt.Sprintf("  addr: %q\n", redisAddr))
		cfg.WriteString("\n")
		cfg.WriteString("ratelimit:\n")
		cfg.WriteString(fmt.Sprintf("  messages: %s\n", rateLimit))
		cfg.WriteString("  window: \"1m\"\n")
		cfg.WriteString("\n")
	}

	cfg.WriteString("websocket:\n")
	cfg.WriteString("  write_timeout: \"10s\"\n")
	cfg.WriteString("  ping_interval: \"30s\"\n")
	cfg.WriteString("  store_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Refuse to write something serve would reject
	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the signing secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  microbe-gateway useradd --username alice")
	fmt.Fprintln(out, "  microbe-gateway serve")

	return nil
}

// validateUsername returns the trimmed username or why it is unusable.
func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("--username is required")
	}
	if len(username) > maxUsernameLength {
		return "", fmt.Errorf("username exceeds maximum length of %d characters", maxUsernameLength)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return "", errors.New("username cannot contain whitespace")
	}
	return username, nil
}

func runUserAdd(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := pflag.NewFlagSet("useradd", pflag.ContinueOnError)
	fs.SetOutput(out)
	username := fs.StringP("username", "u", "", "username for the new account")
	password := fs.StringP("password", "p", "", "password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	name, err := validateUsername(*username)
	if err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		pw = prompt(bufio.NewReader(in), out, "Password", "")
	}
	if pw == "" {
		return errors.New("password cannot be empty")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	hash, err := auth.HashPassword(pw)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{Username: name, PasswordHash: hash}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("user %q already exists", name)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Fprintf(out, "Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func runToken(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.SetOutput(out)
	username := fs.StringP("username", "u", "", "user to issue the token for")
	ttl := fs.Duration("ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name, err := validateUsername(*username)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := s.GetUserByUsername(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q does not exist", name)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}
	token, err := verifier.Generate(auth.Identity{ID: user.ID, Username: user.Username}, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
