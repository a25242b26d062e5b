// ABOUTME: Entry point for the agent-gateway server
// ABOUTME: Routes caller requests to research agents and receives their webhook callbacks

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/bridge"
	"github.com/2389/agent-gateway/internal/config"
	"github.com/2389/agent-gateway/internal/gateway"
	"github.com/2389/agent-gateway/internal/ratelimit"
	"github.com/2389/agent-gateway/internal/routetable"
	"github.com/2389/agent-gateway/internal/store"
	"github.com/2389/agent-gateway/internal/webhook"
	"github.com/2389/agent-gateway/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _                     _
  __ _  __ _  ___ _ __ | |_       __ _  __ _| |_ _____      ____ _ _   _
 / _' |/ _' |/ _ \ '_ \| __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | (_| |  __/ | | | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|\__, |\___|_| |_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
       |___/                     |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: GATEWAY_CONFIG env var > XDG_CONFIG_HOME/agent-gateway/gateway.yaml > ~/.config/agent-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATEWAY_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "agent-gateway", "gateway.yaml")
}

// getDataPath returns the path to the gateway data directory.
// Priority: XDG_DATA_HOME/agent-gateway > ~/.local/share/agent-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "agent-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agent-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the gateway server")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  token --subject NAME    Mint a caller token")
		fmt.Println("  health                  Check gateway health")
		fmt.Println("  status [worker]         Query worker status")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
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

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Workers:  %d configured\n", len(cfg.Workers))
	if cfg.RateLimit.Backend == "redis" {
		green.Print("    ▶ ")
		fmt.Printf("Redis:    %s\n", cfg.RateLimit.Redis)
	}

	fmt.Println()

	logger.Info("starting agent-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"workers", len(cfg.Workers),
	)

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// buildServer wires the full dispatch and webhook stack from configuration.
func buildServer(cfg *config.Config, logger *slog.Logger) (*gateway.Server, error) {
	table, err := routetable.New(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("building route table: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var window ratelimit.Window
	if cfg.RateLimit.Backend == "redis" {
		window = ratelimit.NewRedisWindow(cfg.RateLimit.Redis)
	} else {
		window = ratelimit.NewMemoryWindow()
	}
	limiter := ratelimit.NewLimiter(window, cfg.RateLimit.Enabled,
		cfg.RateLimit.Window, cfg.RateLimit.Limit, logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		verifier = v
	}
	validator := auth.NewValidator(cfg.Auth.APIKeys, verifier)

	tracker := workflow.NewTracker(st, logger)
	upstream := bridge.New(cfg.Server.RequestTimeout, logger)

	var registry *prometheus.Registry
	var metrics *gateway.Metrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = gateway.NewMetrics(registry)
	}

	gw := gateway.New(table, limiter, validator, upstream, st, tracker, metrics, logger)

	signer := auth.NewSigner([]byte(cfg.Webhook.Secret))
	notifier := webhook.NewHTTPNotifier(st, cfg.Webhook.HookURL, signer, logger)

	handlers := webhook.NewRegistry()
	webhook.RegisterBuiltins(handlers, st, tracker, notifier, logger)
	receiver := webhook.NewReceiver(signer, handlers, st, logger)

	return gateway.NewServer(gw, receiver, st, cfg, metrics, registry, logger), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runToken mints a signed caller token using the configured JWT secret.
// Supports both "--subject value" and "--subject=value" formats.
func runToken() error {
	var subject string
	var roles []string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--roles":
			if i+1 >= len(args) {
				return fmt.Errorf("--roles requires a value")
			}
			roles = strings.Split(args[i+1], ",")
			i++
		case strings.HasPrefix(arg, "--roles="):
			roles = strings.Split(strings.TrimPrefix(arg, "--roles="), ",")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}

	token, err := verifier.Generate(subject, roles, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires %s)\n\n", subject, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/status", cfg.Server.HTTPAddr)
	if len(os.Args) > 2 {
		url = fmt.Sprintf("%s/%s", url, os.Args[2])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status query failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("agent-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	requestTimeout := prompt(reader, "Upstream request timeout", "30s")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Worker
	fmt.Println("\n--- First Worker ---")
	workerName := prompt(reader, "Worker name", "research-discovery")
	workerURL := prompt(reader, "Worker base URL", "http://localhost:9001")
	workerKey := prompt(reader, "Worker API key", "")

	// Rate limiting
	fmt.Println("\n--- Rate Limiting ---")
	rateEnabled := prompt(reader, "Enable rate limiting?", "yes")
	rateLimitOn := strings.ToLower(rateEnabled) == "yes" || strings.ToLower(rateEnabled) == "y"
	rateBackend := "memory"
	rateRedis := ""
	if rateLimitOn {
		rateBackend = prompt(reader, "Backend (memory/redis)", "memory")
		if rateBackend == "redis" {
			rateRedis = prompt(reader, "Redis address", "localhost:6379")
		}
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Secrets
	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	webhookSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating webhook secret: %w", err)
	}

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# agent-gateway configuration\n")
	cfg.WriteString("# Generated by agent-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  request_timeout: \"%s\"\n", requestTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("workers:\n")
	cfg.WriteString(fmt.Sprintf("  - name: \"%s\"\n", workerName))
	cfg.WriteString(fmt.Sprintf("    base_url: \"%s\"\n", workerURL))
	if workerKey != "" {
		cfg.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", workerKey))
	}
	cfg.WriteString("    wildcard: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", rateLimitOn))
	cfg.WriteString("  limit: 100\n")
	cfg.WriteString("  window: \"60s\"\n")
	cfg.WriteString(fmt.Sprintf("  backend: \"%s\"\n", rateBackend))
	if rateRedis != "" {
		cfg.WriteString(fmt.Sprintf("  redis: \"%s\"\n", rateRedis))
	}
	cfg.WriteString("\n")

	cfg.WriteString("webhook:\n")
	cfg.WriteString(fmt.Sprintf("  secret: \"%s\"\n", webhookSecret))
	cfg.WriteString("\n")

	cfg.WriteString("retention:\n")
	cfg.WriteString("  comm_log: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nSecrets were generated for auth.jwt_secret and webhook.secret.")
	fmt.Println("Share the webhook secret with your workers so they can sign callbacks.")
	fmt.Println("\nTo start the server:")
	fmt.Printf("  agent-gateway serve\n")

	return nil
}

// randomSecret returns a 32-byte base64 secret from crypto/rand.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
