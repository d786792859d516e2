// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] reads an optional YAML file named by CONFIG_FILE and then the
// environment, using cleanenv struct tags; environment variables win. The
// supported variables are:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT / METRICS_ENABLED: Prometheus server (default: 9090, true)
//   - DATABASE_DIR: catalog directory, must be writable (default: /database)
//   - UPLOAD_DIR: local staging for uploads (default: /tmp/video-uploads)
//   - CONTENT_ROOT: media server content root
//   - PRESETS_FILE: YAML or JSON quality presets (default: built-in table)
//   - MAX_UPLOAD_MB: upload size ceiling (default: 2048)
//   - MEMORY_LIMIT: container memory limit in bytes, used to set GOMEMLIMIT
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the Go heap (default: 0.85)
//   - DEFAULT_BITRATE_LIMIT, DEFAULT_STORAGE_MB, DEFAULT_SERVER_ID: values
//     used by the host check tool and for new accounts
//   - QUOTA_STRICT: hold quota atomically at reservation time (default: false)
//   - SERVERS: media servers as "1=host:22,2=host2:22"
//   - SSH_USER, SSH_PASSWORD, SSH_KEY_FILE, SSH_KNOWN_HOSTS, SSH_DIAL_TIMEOUT
//   - SSH_INSECURE_IGNORE_HOST_KEY: skip host key checks when SSH_KNOWN_HOSTS
//     is unset (default: false; without either the service refuses to start)
//   - CONVERSION_WAIT: how long a request waits for ffmpeg (default: 10m)
//   - RECONCILE_INTERVAL, RECONCILE_ABANDON_AFTER (default: 1m, 6h)
//   - KAFKA_BROKERS, KAFKA_TOPIC: lifecycle events, disabled without brokers
//   - LOG_LEVEL, LOG_SQL, LOG_HEALTH_CHECKS
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
// The Log* functions print the banner-style sections seen at startup and
// shutdown.
package startup
