// ABOUTME: Entry point for the converse-gateway chat stream server
// ABOUTME: Subcommands serve the gateway, write a config, mint dev tokens and check health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/converse-gateway/internal/auth"
	"github.com/2389/converse-gateway/internal/config"
	"github.com/2389/converse-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ ___  _ ____   _____ _ __ ___  ___
 / __/ _ \| '_ \ \ / / _ \ '__/ __|/ _ \
| (_| (_) | | | \ V /  __/ |  \__ \  __/
 \___\___/|_| |_|\_/ \___|_|  |___/\___|
`

// defaultTokenTTL is the lifetime of tokens minted by the token subcommand.
const defaultTokenTTL = 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: CONVERSE_CONFIG env var > XDG_CONFIG_HOME/converse/gateway.yaml > ~/.config/converse/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONVERSE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "converse", "gateway.yaml")
}

func usage() {
	fmt.Println("Usage: converse-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                     Start the gateway server")
	fmt.Println("  init [--force]            Write a default config with a fresh JWT secret")
	fmt.Println("  token --sub ID [--ttl D]  Mint a stream token signed with the configured secret")
	fmt.Println("  health                    Check gateway liveness")
	fmt.Println("  ready                     Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealthCheck(ctx, "/health")
	case "ready":
		err = runHealthCheck(ctx, "/health/ready")
	case "help", "-h", "--help":
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

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
	fmt.Printf("HTTP:      %s%s\n", cfg.Server.HTTPAddr, cfg.Server.StreamPath)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Health:    %s (grpc)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Replay:    %s (ttl %s)\n", cfg.Replay.Backend, cfg.Replay.TTL)
	green.Print("    ▶ ")
	fmt.Printf("Generator: %s", cfg.Generator.Provider)
	if cfg.Generator.Model != "" {
		gray.Printf(" (%s)", cfg.Generator.Model)
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled (no jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting converse-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"replay_backend", cfg.Replay.Backend,
		"generator", cfg.Generator.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runHealthCheck requests a gateway health endpoint and prints its body.
func runHealthCheck(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// runToken mints a JWT for a client subject.
// Supports both "--sub value" and "--sub=value" formats.
func runToken(args []string) error {
	var subject string
	ttl := defaultTokenTTL

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--sub", "-s", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unknown flag: %s", arg)
			}
			return fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		if name == "--ttl" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --ttl %q", value)
			}
			ttl = d
			continue
		}
		subject = strings.TrimSpace(value)
	}

	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Issue(subject, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runInit writes a default config file with a random JWT secret.
func runInit(args []string) error {
	force := false
	for _, arg := range args {
		if arg != "--force" && arg != "-f" {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		force = true
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	secret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig(secret)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Println("    converse-gateway serve")
	fmt.Println("  To mint a client token:")
	fmt.Println("    converse-gateway token --sub alice")
	fmt.Println()
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// defaultConfig renders the commented starter config.
func defaultConfig(secret string) string {
	return fmt.Sprintf(`# converse-gateway configuration
# Generated by converse-gateway init

server:
  http_addr: "localhost:8080"
  # grpc_addr: "localhost:50051"   # grpc.health.v1 endpoint
  stream_path: "%s"
  # allowed_origins: ["app.example.com"]

replay:
  backend: "memory"                # memory, redis or sqlite
  # redis_url: "redis://localhost:6379/0"
  # sqlite_path: "replay.db"
  ttl: "%s"
  cleanup_interval: "%s"

flush:
  max_chars: %d
  min_sentence_chars: %d
  normalize_cr: "strip"            # strip or newline

conversation:
  cancel_policy: "discard"         # discard or flush
  default_user_id: "%s"

generator:
  provider: "scripted"             # scripted, openai or anthropic
  # model: "gpt-4o-mini"
  # api_key: "${OPENAI_API_KEY}"
  fragment_delay: "40ms"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "%s"
`,
		config.DefaultStreamPath,
		config.DefaultReplayTTL,
		config.DefaultCleanupInterval,
		config.DefaultFlushMaxChars,
		config.DefaultMinSentenceChars,
		config.DefaultUserID,
		secret,
		config.DefaultMetricsPath,
	)
}
