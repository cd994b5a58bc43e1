// ABOUTME: microbe subcommand implementations
// ABOUTME: Plain HTTP calls for reads, a WebSocket session for sends and live updates

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/NightFury20/microbe-messaging/internal/client"
	"github.com/NightFury20/microbe-messaging/internal/conversation"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

// sendTimeout bounds how long send waits for the gateway to confirm
const sendTimeout = 10 * time.Second

func cmdLogin(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(e.out)
	username := fs.StringP("username", "u", "", "username")
	password := fs.StringP("password", "p", "", "password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(e.in)
	if *username == "" {
		*username = readLine(reader, e, "Username: ")
	}
	if *password == "" {
		*password = readLine(reader, e, "Password: ")
	}

	c, err := client.New(e.server)
	if err != nil {
		return err
	}
	res, err := c.Login(ctx, *username, *password)
	if err != nil {
		if client.IsUnauthorized(err) {
			return errors.New("invalid username or password")
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(e.tokenPath), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(e.tokenPath, []byte(res.Token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(e.out, "  ✓ Logged in as %s (id %d)\n", res.User.Username, res.User.ID)
	fmt.Fprintf(e.out, "  Token saved to %s, valid for %s\n", e.tokenPath, time.Duration(res.ExpiresIn)*time.Second)
	return nil
}

func cmdLogout(e *env) error {
	if err := os.Remove(e.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token: %w", err)
	}
	fmt.Fprintln(e.out, "Logged out.")
	return nil
}

func cmdLookup(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lookup <username>")
	}
	c, err := e.authedClient()
	if err != nil {
		return err
	}

	res, err := c.Lookup(ctx, args[0])
	if err != nil {
		return wrapAuth(err)
	}
	switch {
	case !res.Found:
		fmt.Fprintf(e.out, "%s: not found\n", args[0])
	case res.Self:
		fmt.Fprintf(e.out, "%s: that's you (id %d)\n", args[0], res.UserID)
	default:
		fmt.Fprintf(e.out, "%s: id %d\n", args[0], res.UserID)
	}
	return nil
}

func cmdThreads(ctx context.Context, e *env) error {
	c, err := e.authedClient()
	if err != nil {
		return err
	}
	threads, err := c.Threads(ctx)
	if err != nil {
		return wrapAuth(err)
	}
	printThreads(e, threads)
	return nil
}

func printThreads(e *env, threads []conversation.Thread) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(e.out)
	cyan.Fprintln(e.out, "  Conversations")
	cyan.Fprintln(e.out, "  -------------")

	if len(threads) == 0 {
		fmt.Fprintln(e.out, "  (no conversations yet)")
		fmt.Fprintln(e.out)
		return
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WITH\tUNREAD\tLAST\tWHEN")
	fmt.Fprintln(w, "  ----\t------\t----\t----")
	for _, t := range threads {
		last, when := "", ""
		if t.LastMessage != nil {
			last = truncate(t.LastMessage.Content, 40)
			when = t.LastMessage.CreatedAt.Local().Format("Jan 02 15:04")
		}
		unread := ""
		if t.UnreadCount > 0 {
			unread = fmt.Sprint(t.UnreadCount)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", t.OtherUser.Username, unread, last, when)
	}
	w.Flush()
	fmt.Fprintln(e.out)
}

func printMessage(e *env, msg *store.Message) {
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(e.out, "%s ", msg.CreatedAt.Local().Format("15:04"))
	fmt.Fprintf(e.out, "%s: %s\n", msg.SentBy.Username, msg.Content)
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: history <username>")
	}
	c, err := e.authedClient()
	if err != nil {
		return err
	}
	otherID, err := resolveUser(ctx, c, args[0])
	if err != nil {
		return err
	}

	messages, err := c.Messages(ctx, otherID)
	if err != nil {
		return wrapAuth(err)
	}
	if len(messages) == 0 {
		fmt.Fprintf(e.out, "No messages with %s yet.\n", args[0])
		return nil
	}
	for _, msg := range messages {
		printMessage(e, msg)
	}
	return nil
}

// connect opens a session, mapping a rejected token to a login hint.
func connect(ctx context.Context, c *client.Client) (*client.Session, error) {
	sess, err := c.Connect(ctx)
	if err != nil {
		return nil, wrapAuth(err)
	}
	return sess, nil
}

// sendAndWait sends one message and waits for the gateway to accept or
// reject it.
func sendAndWait(ctx context.Context, sess *client.Session, to int64, content string) (int64, error) {
	clientID := uuid.NewString()
	if err := sess.SendMessage(ctx, to, content, clientID); err != nil {
		return 0, fmt.Errorf("sending: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return 0, fmt.Errorf("connection closed: %v", sess.Err())
			}
			if ev.ClientMessageID != clientID {
				continue
			}
			switch ev.Type {
			case client.EventSent:
				return ev.MessageID, nil
			case client.EventError:
				return 0, fmt.Errorf("%s: %s", ev.Code, ev.Message)
			}
		case <-ctx.Done():
			return 0, errors.New("timed out waiting for the gateway")
		}
	}
}

func cmdSend(ctx context.Context, e *env, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: send <username> <message>")
	}
	c, err := e.authedClient()
	if err != nil {
		return err
	}
	to, err := resolveUser(ctx, c, args[0])
	if err != nil {
		return err
	}

	sess, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	id, err := sendAndWait(ctx, sess, to, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(e.out, "  ✓ Sent (message %d)\n", id)
	return nil
}

func cmdWatch(ctx context.Context, e *env) error {
	c, err := e.authedClient()
	if err != nil {
		return err
	}
	sess, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	color.New(color.FgCyan).Fprintln(e.out, "Watching for changes (Ctrl+C to exit)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sess.Events():
			if !ok {
				return sess.Err()
			}
			switch ev.Type {
			case client.EventDataReady:
				if err := sess.RequestData(ctx, nil); err != nil {
					return err
				}
			case client.EventData:
				printThreads(e, ev.Bundle.Threads)
			}
		}
	}
}

// cmdChat keeps the thread open: incoming messages are printed as they
// arrive and each line typed is sent.
func cmdChat(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chat <username>")
	}
	c, err := e.authedClient()
	if err != nil {
		return err
	}
	other, err := resolveUser(ctx, c, args[0])
	if err != nil {
		return err
	}
	sess, err := connect(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	color.New(color.FgCyan).Fprintf(e.out, "Chat with %s (Ctrl+D to exit)\n\n", args[0])

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(e.in)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var lastSeen int64
	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(e.out)
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := sess.SendMessage(ctx, other, line, uuid.NewString()); err != nil {
				return err
			}

		case ev, ok := <-sess.Events():
			if !ok {
				return sess.Err()
			}
			switch ev.Type {
			case client.EventDataReady:
				if err := sess.RequestData(ctx, &other); err != nil {
					return err
				}
			case client.EventData:
				for _, msg := range ev.Bundle.CurrentChat {
					if msg.ID > lastSeen {
						printMessage(e, msg)
						lastSeen = msg.ID
					}
				}
			case client.EventError:
				color.New(color.FgRed).Fprintf(e.out, "  ! %s: %s\n", ev.Code, ev.Message)
			}
		}
	}
}

func readLine(reader *bufio.Reader, e *env, prompt string) string {
	fmt.Fprint(e.out, prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
