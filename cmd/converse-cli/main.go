// ABOUTME: Interactive terminal client for the converse-gateway chat stream
// ABOUTME: Streams tokens as they arrive, answers cards and resumes after reconnecting

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/converse-gateway/internal/envelope"
)

// getToken returns the JWT from CONVERSE_TOKEN or ~/.config/converse/token.
func getToken() string {
	if token := os.Getenv("CONVERSE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "converse", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	server := flag.String("server", "ws://localhost:8080/chat/stream", "Gateway stream URL")
	conversationID := flag.String("conversation", "", "Conversation ID (random when empty)")
	userID := flag.String("user", "", "user_id hint sent with messages")
	token := flag.String("token", "", "JWT for the stream (defaults to CONVERSE_TOKEN)")
	flag.Parse()

	if *conversationID == "" {
		*conversationID = uuid.NewString()
	}
	if *token == "" {
		*token = getToken()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &client{
		url:            *server,
		token:          *token,
		conversationID: *conversationID,
		userID:         *userID,
		out:            newRenderer(os.Stdout),
	}

	fmt.Printf("converse-cli conversation %s\n", c.conversationID)
	if c.token != "" {
		fmt.Println("Auth: JWT token configured")
	} else {
		fmt.Println("Auth: none (set CONVERSE_TOKEN or -token)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := c.connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.close()

	if err := c.run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// client holds one stream connection at a time.
type client struct {
	url            string
	token          string
	conversationID string
	userID         string
	out            *renderer

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) connect(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.conn = nil
	}
}

func (c *client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if current && ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.out.notice("connection lost: %v (use /reconnect)", err)
			}
			return
		}
		c.out.render(env)
	}
}

func (c *client) send(ctx context.Context, frame map[string]any) error {
	frame["conversation_id"] = c.conversationID
	if c.userID != "" {
		frame["user_id"] = c.userID
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return wsjson.Write(ctx, conn, frame)
}

func (c *client) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		quit, err := c.command(ctx, input)
		if err != nil {
			c.out.notice("[error] %v", err)
		}
		if quit {
			return nil
		}
	}
}

// command interprets one input line.
func (c *client) command(ctx context.Context, input string) (quit bool, err error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		printHelp()
		return false, nil
	case "/confirm":
		return false, c.send(ctx, actionFrame("confirm"))
	case "/cancel":
		return false, c.send(ctx, actionFrame("cancel"))
	case "/action":
		if arg == "" {
			return false, errors.New("/action requires an id")
		}
		return false, c.send(ctx, actionFrame(arg))
	case "/stop":
		return false, c.send(ctx, map[string]any{"type": envelope.TypeStop, "payload": map[string]any{}})
	case "/resume":
		return false, c.send(ctx, c.resumeFrame())
	case "/reconnect":
		c.close()
		if err := c.connect(ctx); err != nil {
			return false, err
		}
		c.out.notice("reconnected, resuming after %d", c.out.lastSequence())
		return false, c.send(ctx, c.resumeFrame())
	}

	if strings.HasPrefix(name, "/") {
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, c.send(ctx, map[string]any{
		"type":    envelope.TypeUserMessage,
		"payload": map[string]any{"text": input},
	})
}

func (c *client) resumeFrame() map[string]any {
	return map[string]any{
		"type":    envelope.TypeResume,
		"payload": map[string]any{"last_sequence": c.out.lastSequence()},
	}
}

func actionFrame(id string) map[string]any {
	return map[string]any{"type": envelope.TypeAction, "payload": map[string]any{"id": id}}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /confirm       Answer the open card with confirm")
	fmt.Println("  /cancel        Answer the open card with cancel")
	fmt.Println("  /action <id>   Answer the open card with any action id")
	fmt.Println("  /stop          Stop the running answer")
	fmt.Println("  /resume        Request events after the last one seen")
	fmt.Println("  /reconnect     Open a new connection and resume")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}
