// ABOUTME: Command-line client for microbe-gateway direct messages
// ABOUTME: Logs in, lists threads, reads history, sends messages and watches for changes

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/NightFury20/microbe-messaging/internal/client"
)

const banner = `
            _               _
  _ __ ___ (_) ___ _ __ ___ | |__   ___
 | '_ ' _ \| |/ __| '__/ _ \| '_ \ / _ \
 | | | | | | | (__| | | (_) | |_) |  __/
 |_| |_| |_|_|\___|_|  \___/|_.__/ \___|
`

// env carries what every command needs, so commands can run against any
// streams in tests.
type env struct {
	server    string
	tokenPath string
	in        io.Reader
	out       io.Writer
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	e := &env{
		server:    getEnv("MICROBE_SERVER", "http://localhost:8080"),
		tokenPath: getTokenPath(),
		in:        os.Stdin,
		out:       os.Stdout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, e, os.Args[1], os.Args[2:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e *env, cmd string, args []string) error {
	switch cmd {
	case "login":
		return cmdLogin(ctx, e, args)
	case "logout":
		return cmdLogout(e)
	case "lookup":
		return cmdLookup(ctx, e, args)
	case "threads":
		return cmdThreads(ctx, e)
	case "history":
		return cmdHistory(ctx, e, args)
	case "send":
		return cmdSend(ctx, e, args)
	case "chat":
		return cmdChat(ctx, e, args)
	case "watch":
		return cmdWatch(ctx, e)
	case "help", "-h", "--help":
		printUsage(e.out)
		return nil
	default:
		printUsage(e.out)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage(out io.Writer) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: microbe <command> [args]")
	fmt.Fprintln(out)
	yellow.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  login [-u USER] [-p PASS]   Log in and save the token")
	fmt.Fprintln(out, "  logout                      Forget the saved token")
	fmt.Fprintln(out, "  lookup <username>           Check whether a user exists")
	fmt.Fprintln(out, "  threads                     List your conversations")
	fmt.Fprintln(out, "  history <username>          Show a conversation (marks it read)")
	fmt.Fprintln(out, "  send <username> <message>   Send one message")
	fmt.Fprintln(out, "  chat <username>             Interactive chat (Ctrl+D to exit)")
	fmt.Fprintln(out, "  watch                       Print your threads whenever they change")
	fmt.Fprintln(out)
	yellow.Fprintln(out, "Environment:")
	fmt.Fprintln(out, "  MICROBE_SERVER   Gateway URL (default: http://localhost:8080)")
	fmt.Fprintln(out, "  MICROBE_TOKEN    Identity token (overrides the saved token)")
	fmt.Fprintln(out)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getTokenPath returns where login saves the token.
// Priority: XDG_CONFIG_HOME/microbe/token > ~/.config/microbe/token
func getTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "microbe", "token")
}

// token returns MICROBE_TOKEN or the saved token.
func (e *env) token() string {
	if token := os.Getenv("MICROBE_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(e.tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// authedClient returns a client carrying the saved token.
func (e *env) authedClient() (*client.Client, error) {
	token := e.token()
	if token == "" {
		return nil, errors.New("not logged in; run: microbe login")
	}
	return client.New(e.server, client.WithToken(token))
}

// wrapAuth turns a 401 into a hint to log in again.
func wrapAuth(err error) error {
	if client.IsUnauthorized(err) {
		return errors.New("token rejected or expired; run: microbe login")
	}
	return err
}

// resolveUser looks up username and returns its id.
func resolveUser(ctx context.Context, c *client.Client, username string) (int64, error) {
	res, err := c.Lookup(ctx, username)
	if err != nil {
		return 0, wrapAuth(err)
	}
	if !res.Found {
		return 0, fmt.Errorf("no user named %q", username)
	}
	if res.Self {
		return 0, errors.New("you cannot message yourself")
	}
	return res.UserID, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
