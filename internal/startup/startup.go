package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ilyakaznacheev/cleanenv"

	"media-converter/internal/logging"
	"media-converter/internal/quality"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// SSHSettings holds media server credentials.
type SSHSettings struct {
	User           string        `yaml:"user" env:"SSH_USER"`
	Password       string        `yaml:"password" env:"SSH_PASSWORD"`
	KeyFile        string        `yaml:"key_file" env:"SSH_KEY_FILE"`
	KnownHostsFile string        `yaml:"known_hosts" env:"SSH_KNOWN_HOSTS"`
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"SSH_DIAL_TIMEOUT" env-default:"10s"`

	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key" env:"SSH_INSECURE_IGNORE_HOST_KEY" env-default:"false"`
}

// Config holds all application configuration
type Config struct {
	Port            string `yaml:"port" env:"PORT" env-default:"8080"`
	MetricsPort     string `yaml:"metrics_port" env:"METRICS_PORT" env-default:"9090"`
	MetricsEnabled  bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED" env-default:"true"`
	LogSQL          bool   `yaml:"log_sql" env:"LOG_SQL" env-default:"false"`
	LogHealthChecks bool   `yaml:"log_health_checks" env:"LOG_HEALTH_CHECKS" env-default:"true"`

	DatabaseDir string `yaml:"database_dir" env:"DATABASE_DIR" env-default:"/database"`
	UploadDir   string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"/tmp/video-uploads"`
	ContentRoot string `yaml:"content_root" env:"CONTENT_ROOT" env-default:"/usr/local/WowzaStreamingEngine/content"`
	PresetsFile string `yaml:"presets_file" env:"PRESETS_FILE"`
	MaxUploadMB int64  `yaml:"max_upload_mb" env:"MAX_UPLOAD_MB" env-default:"2048"`

	MemoryLimit int64   `yaml:"memory_limit" env:"MEMORY_LIMIT"`
	MemoryRatio float64 `yaml:"memory_ratio" env:"MEMORY_RATIO" env-default:"0.85"`

	DefaultBitrateLimit int   `yaml:"default_bitrate_limit" env:"DEFAULT_BITRATE_LIMIT" env-default:"2500"`
	DefaultStorageMB    int64 `yaml:"default_storage_mb" env:"DEFAULT_STORAGE_MB" env-default:"1000"`
	DefaultServerID     int64 `yaml:"default_server_id" env:"DEFAULT_SERVER_ID" env-default:"1"`
	QuotaStrict         bool  `yaml:"quota_strict" env:"QUOTA_STRICT" env-default:"false"`

	Servers string      `yaml:"servers" env:"SERVERS"`
	SSH     SSHSettings `yaml:"ssh"`

	ConversionWait        time.Duration `yaml:"conversion_wait" env:"CONVERSION_WAIT" env-default:"10m"`
	ReconcileInterval     time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL" env-default:"1m"`
	ReconcileAbandonAfter time.Duration `yaml:"reconcile_abandon_after" env:"RECONCILE_ABANDON_AFTER" env-default:"6h"`

	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC" env-default:"media-converter.events"`

	// Derived
	DatabasePath string           `yaml:"-"`
	ServerAddrs  map[int64]string `yaml:"-"`
	Presets      *quality.Table   `yaml:"-"`
}

// ConfigFileEnv names the optional YAML file read before the environment.
const ConfigFileEnv = "CONFIG_FILE"

// LoadConfig loads and validates configuration from CONFIG_FILE, if set, and
// environment variables. Environment variables win.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	config, err := readConfig(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}
	config.log()

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	config.UploadDir, err = filepath.Abs(config.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory path: %w", err)
	}
	logging.Info("  Upload directory (absolute): %s", config.UploadDir)

	for _, dir := range []struct{ path, name string }{
		{config.DatabaseDir, "database"},
		{config.UploadDir, "upload"},
	} {
		if err := ensureDirectory(dir.path, dir.name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", dir.name, err)
		}
		logging.Debug("  Testing %s directory write access...", dir.name)
		if err := testWriteAccess(dir.path); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", dir.name, err)
		}
		logging.Info("  [OK] %s directory is writable", dir.name)
	}

	config.DatabasePath = filepath.Join(config.DatabaseDir, "media-converter.db")

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEDIA SERVERS")
	logging.Info("------------------------------------------------------------")

	config.ServerAddrs, err = ParseServers(config.Servers)
	if err != nil {
		return nil, err
	}
	if _, ok := config.ServerAddrs[config.DefaultServerID]; !ok {
		logging.Warn("  Default server %d has no address in SERVERS", config.DefaultServerID)
	}
	ids := make([]int64, 0, len(config.ServerAddrs))
	for id := range config.ServerAddrs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		logging.Info("  Server %d: %s", id, config.ServerAddrs[id])
	}

	config.Presets, err = loadPresets(config.PresetsFile)
	if err != nil {
		return nil, err
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:     ENABLED (required)")
	logging.Info("    Events:       %s", enabledString(len(config.KafkaBrokers) > 0))
	logging.Info("    Strict quota: %s", enabledString(config.QuotaStrict))
	logging.Info("    Metrics:      %s", enabledString(config.MetricsEnabled))

	return config, nil
}

// ReadConfig reads configuration like LoadConfig but without the startup
// banner or directory checks. It is meant for command line tools.
func ReadConfig() (*Config, error) {
	config, err := readConfig(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}
	config.DatabasePath = filepath.Join(config.DatabaseDir, "media-converter.db")
	config.ServerAddrs, err = ParseServers(config.Servers)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func readConfig(file string) (*Config, error) {
	config := &Config{}
	if file != "" {
		logging.Info("  CONFIG_FILE:             %s", file)
		if err := cleanenv.ReadConfig(file, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", file, err)
		}
		return config, nil
	}
	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config, nil
}

func (c *Config) log() {
	logging.Info("  PORT:                    %s", c.Port)
	logging.Info("  METRICS_PORT:            %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:         %v", c.MetricsEnabled)
	logging.Info("  DATABASE_DIR:            %s", c.DatabaseDir)
	logging.Info("  UPLOAD_DIR:              %s", c.UploadDir)
	logging.Info("  CONTENT_ROOT:            %s", c.ContentRoot)
	logging.Info("  PRESETS_FILE:            %s", orDefault(c.PresetsFile, "(built-in)"))
	logging.Info("  MAX_UPLOAD_MB:           %d", c.MaxUploadMB)
	logging.Info("  MEMORY_LIMIT:            %d", c.MemoryLimit)
	logging.Info("  MEMORY_RATIO:            %.2f", c.MemoryRatio)
	logging.Info("  DEFAULT_BITRATE_LIMIT:   %d kbps", c.DefaultBitrateLimit)
	logging.Info("  DEFAULT_STORAGE_MB:      %d", c.DefaultStorageMB)
	logging.Info("  DEFAULT_SERVER_ID:       %d", c.DefaultServerID)
	logging.Info("  QUOTA_STRICT:            %v", c.QuotaStrict)
	logging.Info("  SSH_USER:                %s", c.SSH.User)
	logging.Info("  SSH_PASSWORD:            %s", mask(c.SSH.Password))
	logging.Info("  SSH_KEY_FILE:            %s", orDefault(c.SSH.KeyFile, "(none)"))
	logging.Info("  SSH_KNOWN_HOSTS:         %s", orDefault(c.SSH.KnownHostsFile, "(none)"))
	logging.Info("  SSH_INSECURE_IGNORE_HOST_KEY: %v", c.SSH.InsecureIgnoreHostKey)
	logging.Info("  SSH_DIAL_TIMEOUT:        %s", c.SSH.DialTimeout)
	logging.Info("  CONVERSION_WAIT:         %s", c.ConversionWait)
	logging.Info("  RECONCILE_INTERVAL:      %s", c.ReconcileInterval)
	logging.Info("  RECONCILE_ABANDON_AFTER: %s", c.ReconcileAbandonAfter)
	logging.Info("  KAFKA_BROKERS:           %s", orDefault(strings.Join(c.KafkaBrokers, ","), "(disabled)"))
	logging.Info("  KAFKA_TOPIC:             %s", c.KafkaTopic)
	logging.Info("  LOG_SQL:                 %v", c.LogSQL)
	logging.Info("  LOG_HEALTH_CHECKS:       %v", c.LogHealthChecks)
	logging.Info("  LOG_LEVEL:               %s", logging.GetLevel())
}

// ParseServers parses "1=host:22,2=host2:22" into a map of server id to
// address. A missing port defaults to 22.
func ParseServers(s string) (map[int64]string, error) {
	servers := make(map[int64]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid SERVERS entry %q: expected id=host:port", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid server id in SERVERS entry %q", entry)
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("empty address in SERVERS entry %q", entry)
		}
		if !strings.Contains(addr, ":") {
			addr += ":22"
		}
		if _, dup := servers[id]; dup {
			return nil, fmt.Errorf("server %d listed twice in SERVERS", id)
		}
		servers[id] = addr
	}
	return servers, nil
}

func loadPresets(file string) (*quality.Table, error) {
	if file == "" {
		return quality.DefaultTable(), nil
	}
	table, err := quality.LoadTable(file)
	if err != nil {
		return nil, err
	}
	logging.Info("  [OK] Loaded %d quality presets from %s", len(table.Presets()), file)
	return table, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func mask(secret string) string {
	if secret == "" {
		return "(none)"
	}
	return "********"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogTranscoderInit logs transcoder initialization and checks the local
// ffprobe used for uploads.
func LogTranscoderInit(ffprobePath string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSCODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	if err := checkFFprobe(ffprobePath); err != nil {
		logging.Warn("  ffprobe check failed: %v", err)
		logging.Warn("  Uploaded videos will be stored without metadata")
	} else {
		logging.Info("  [OK] ffprobe is available")
	}
}

// LogReconcilerInit logs reconciler settings
func LogReconcilerInit(interval, staleAfter, abandonAfter time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("RECONCILER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Interval:      %v", interval)
	logging.Info("  Stale after:   %v", staleAfter)
	logging.Info("  Abandon after: %v", abandonAfter)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
  __  __          _ _          ___                     _
 |  \/  |___ __ _(_) __ _    / __|___ _ ___ _____ _ _| |_ ___ _ _
 | |\/| / -_) _' | |/ _' |  | (__/ _ \ ' \ V / -_) '_|  _/ -_) '_|
 |_|  |_\___\__,_|_|\__,_|   \___\___/_||_\_/\___|_|  \__\___|_|

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func checkFFprobe(ffprobePath string) error {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	path, err := exec.LookPath(ffprobePath)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", ffprobePath)
	}
	logging.Debug("  ffprobe path: %s", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get ffprobe version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		logging.Debug("  ffprobe version: %s", strings.TrimSpace(lines[0]))
	}

	return nil
}
