package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"media-converter/internal/database"
	"media-converter/internal/metrics"
	"media-converter/internal/remote"
	"media-converter/internal/startup"
)

const (
	// Default timeout for each remote check
	defaultTimeout = 30 * time.Second

	checkOK   = "HOSTCHECK_OK"
	checkFail = "HOSTCHECK_FAIL"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	config, err := startup.ReadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ok := true
	switch command := os.Args[1]; command {
	case "servers":
		listServers(os.Stdout, config.ServerAddrs)
	case "check":
		ok = check(ctx, config, os.Args[2:])
	case "status":
		ok = status(ctx, config)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitizeCommand(command))
		printUsage(os.Stdout)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// Any character that is not alphanumeric, a hyphen, or an underscore becomes '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Media Converter Host Check")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: hostcheck <command> [server-id]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  servers       - List configured media servers")
	fmt.Fprintln(w, "  check <id>    - Verify SSH access, ffmpeg, ffprobe and the content root")
	fmt.Fprintln(w, "  status        - Summarize the catalog")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  Same variables as the service (SERVERS, SSH_*, CONTENT_ROOT, DATABASE_DIR)")
}

func listServers(w io.Writer, servers map[int64]string) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No servers configured (set SERVERS)")
		return
	}
	ids := make([]int64, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "  %d  %s\n", id, servers[id])
	}
}

func check(ctx context.Context, config *startup.Config, args []string) bool {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: check needs exactly one server id")
		return false
	}
	serverID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid server id %q\n", sanitizeCommand(args[0]))
		return false
	}
	if _, ok := config.ServerAddrs[serverID]; !ok {
		fmt.Fprintf(os.Stderr, "Error: server %d is not in SERVERS\n", serverID)
		return false
	}

	password := config.SSH.Password
	if password == "" && config.SSH.KeyFile == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Printf("SSH password for %s@%s: ", config.SSH.User, config.ServerAddrs[serverID])
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
			return false
		}
		password = string(b)
	}

	gw, err := remote.NewSSHGateway(remote.SSHConfig{
		User:                  config.SSH.User,
		Password:              password,
		KeyFile:               config.SSH.KeyFile,
		KnownHostsFile:        config.SSH.KnownHostsFile,
		DialTimeout:           config.SSH.DialTimeout,
		InsecureIgnoreHostKey: config.SSH.InsecureIgnoreHostKey,
	}, config.ServerAddrs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	defer gw.Close()

	return runChecks(ctx, gw, serverID, config.ContentRoot, os.Stdout)
}

type hostCheck struct {
	name string
	cmd  string
}

func hostChecks(contentRoot string) []hostCheck {
	root := remote.Quote(contentRoot)
	return []hostCheck{
		{"ffmpeg", "ffmpeg -version"},
		{"ffprobe", "ffprobe -version"},
		{"content root", "test -d " + root + " && test -w " + root},
	}
}

// runChecks runs every host check on serverID and reports whether all passed.
func runChecks(ctx context.Context, gw remote.Gateway, serverID int64, contentRoot string, w io.Writer) bool {
	passed := true
	for _, c := range hostChecks(contentRoot) {
		cctx, cancel := context.WithTimeout(ctx, defaultTimeout)
		out, err := gw.Execute(cctx, serverID,
			fmt.Sprintf("%s >/dev/null 2>&1 && echo %s || echo %s", c.cmd, checkOK, checkFail))
		cancel()

		switch {
		case err != nil:
			fmt.Fprintf(w, "  [FAIL] %-13s %v\n", c.name, err)
			passed = false
		case remote.ParseSentinel(out.Stdout, checkOK, checkFail) != remote.StatusSuccess:
			fmt.Fprintf(w, "  [FAIL] %-13s %s failed on server %d\n", c.name, c.cmd, serverID)
			passed = false
		default:
			fmt.Fprintf(w, "  [OK]   %s\n", c.name)
		}
	}
	return passed
}

func status(ctx context.Context, config *startup.Config) bool {
	db, err := database.New(ctx, config.DatabasePath, database.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATABASE_DIR is set correctly (current: %s)\n", config.DatabaseDir)
		return false
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	printStats(os.Stdout, db.GetStats())
	return true
}

func printStats(w io.Writer, s metrics.Stats) {
	fmt.Fprintf(w, "Original videos:     %d\n", s.OriginalAssets)
	fmt.Fprintf(w, "Converted videos:    %d\n", s.ConvertedAssets)
	fmt.Fprintf(w, "Incompatible videos: %d\n", s.IncompatibleAssets)
	fmt.Fprintf(w, "Storage:             %d / %d MB\n", s.UsedMB, s.AllottedMB)
	fmt.Fprintf(w, "Jobs in progress:    %d\n", s.JobsInProgress)
}
