// ABOUTME: Entry point for the askbox server
// ABOUTME: Serves the question/answer API, the websocket event stream, and admin subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
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

	"github.com/askbox/askbox/internal/answer"
	"github.com/askbox/askbox/internal/api"
	"github.com/askbox/askbox/internal/auth"
	"github.com/askbox/askbox/internal/broker"
	"github.com/askbox/askbox/internal/config"
	"github.com/askbox/askbox/internal/fediverse"
	"github.com/askbox/askbox/internal/gateway"
	"github.com/askbox/askbox/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _    _
  __ _ ___| | _| |__   _____  __
 / _' / __| |/ / '_ \ / _ \ \/ /
| (_| \__ \   <| |_) | (_) >  <
 \__,_|___/_|\_\_.__/ \___/_/\_\
`

// getConfigPath returns the path to the server config file.
// Priority: ASKBOX_CONFIG env var > XDG_CONFIG_HOME/askbox/server.yaml > ~/.config/askbox/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASKBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "askbox", "server.yaml")
}

// getDataPath returns the path to the askbox data directory.
// Priority: XDG_DATA_HOME/askbox > ~/.local/share/askbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "askbox")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: askbox-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the server")
		fmt.Println("  init                       Create a new config file interactively")
		fmt.Println("  register --handle HANDLE   Register a federated identity and print a session token")
		fmt.Println("  health                     Check server health")
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
	case "register":
		err = runRegister(ctx)
	case "health":
		err = runHealth(ctx)
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
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Broker:   %s\n", cfg.Broker.Kind)
	fmt.Println()

	logger.Info("starting askbox-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"broker", cfg.Broker.Kind,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	br, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}
	defer br.Close()

	registry := fediverse.NewRegistry(nil, cfg.Service.AppSecret)
	svc := answer.NewService(st, br, registry, cfg.Service.BaseURL, cfg.Service.Hashtag, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), st)

	gw := gateway.New(br, verifier, cfg.Gateway.KeepAliveInterval, logger)
	defer gw.Close()

	handler := api.NewHandler(svc, st, verifier, gw, logger)
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		return broker.NewRedisBroker(ctx, cfg.Broker.RedisURL, logger)
	default:
		return broker.NewMemoryBroker(logger), nil
	}
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

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

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

// runRegister creates a federated identity plus a default profile and
// prints a session token for it. This is the first-time setup path for an
// account: askbox-server register --handle @bob@example.social --host example.social --kind misskey --access-token TOKEN
func runRegister(ctx context.Context) error {
	var handle, host, kind, accessToken, name string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var dst *string
		switch arg {
		case "--handle":
			dst = &handle
		case "--host":
			dst = &host
		case "--kind":
			dst = &kind
		case "--access-token":
			dst = &accessToken
		case "--name":
			dst = &name
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
		if i+1 >= len(args) {
			return fmt.Errorf("%s requires a value", arg)
		}
		i++
		*dst = args[i]
	}

	if handle == "" || host == "" || accessToken == "" {
		return fmt.Errorf("--handle, --host, and --access-token are required")
	}
	switch kind {
	case store.InstanceKindMisskey, store.InstanceKindMastodon:
	default:
		return fmt.Errorf("--kind must be %q or %q", store.InstanceKindMisskey, store.InstanceKindMastodon)
	}
	if name == "" {
		name = handle
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ident := &store.Identity{
		Handle:       handle,
		HostName:     host,
		InstanceKind: kind,
		AccessToken:  accessToken,
	}
	if err := st.CreateIdentity(ctx, ident); err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}
	if err := st.UpsertProfile(ctx, &store.Profile{
		Handle:            handle,
		Name:              name,
		DefaultVisibility: string(fediverse.VisibilityPublic),
	}); err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), st)
	token, err := verifier.Generate(ctx, handle, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Registered %s (%s on %s)\n", handle, kind, host)
	fmt.Println()
	fmt.Printf("  Session token (valid %s):\n", cfg.Auth.SessionTTL)
	fmt.Printf("  %s\n", token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("askbox-server configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "askbox.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "Public base URL", "http://"+httpAddr)

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Broker Configuration ---")
	brokerKind := prompt(reader, "Broker kind (memory/redis)", config.BrokerMemory)
	var redisURL string
	if brokerKind == config.BrokerRedis {
		redisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Fresh secrets per install
	jwtSecret, err := randomSecret()
	if err != nil {
		return err
	}
	appSecret, err := randomSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# askbox-server configuration\n")
	cfg.WriteString("# Generated by askbox-server init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("broker:\n")
	cfg.WriteString(fmt.Sprintf("  kind: \"%s\"\n", brokerKind))
	if redisURL != "" {
		cfg.WriteString(fmt.Sprintf("  redis_url: \"%s\"\n", redisURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  session_ttl: \"168h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("service:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	cfg.WriteString(fmt.Sprintf("  app_secret: \"%s\"\n", appSecret))
	cfg.WriteString("  hashtag: \"#askbox\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("gateway:\n")
	cfg.WriteString("  keep_alive_interval: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  askbox-server serve\n")

	return nil
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
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
