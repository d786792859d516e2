package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"media-converter/internal/logging"
)

// cancelGrace bounds how long a cancelled command waits for its session to
// wind down.
const cancelGrace = 2 * time.Second

// SSHConfig holds the credentials used for every media server.
type SSHConfig struct {
	User           string
	Password       string
	KeyFile        string
	KnownHostsFile string
	DialTimeout    time.Duration

	// InsecureIgnoreHostKey skips host key verification when no known
	// hosts file is given. It must be set explicitly.
	InsecureIgnoreHostKey bool
}

// SSHGateway implements Gateway over SSH. One client connection is kept per
// server and a new session is opened for every command.
type SSHGateway struct {
	servers      map[int64]string
	clientConfig *ssh.ClientConfig
	dialTimeout  time.Duration

	mu      sync.Mutex
	clients map[int64]*ssh.Client
}

// NewSSHGateway creates a gateway for servers, a map of server id to
// host:port.
func NewSSHGateway(cfg SSHConfig, servers map[int64]string) (*SSHGateway, error) {
	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	clientConfig.Timeout = dialTimeout

	return &SSHGateway{
		servers:      servers,
		clientConfig: clientConfig,
		dialTimeout:  dialTimeout,
		clients:      make(map[int64]*ssh.Client),
	}, nil
}

func buildClientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Password))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh password or key file is required")
	}

	var hostKeyCallback ssh.HostKeyCallback
	switch {
	case cfg.KnownHostsFile != "":
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	case cfg.InsecureIgnoreHostKey:
		logging.Warn("SSH_INSECURE_IGNORE_HOST_KEY set, media server host keys will not be verified")
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, ErrNoHostKeyPolicy
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// Close closes every open connection.
func (g *SSHGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for id, c := range g.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server %d: %w", id, err))
		}
		delete(g.clients, id)
	}
	return errors.Join(errs...)
}

func (g *SSHGateway) client(ctx context.Context, serverID int64) (*ssh.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[serverID]; ok {
		return c, nil
	}

	addr, ok := g.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
	}

	dialer := net.Dialer{Timeout: g.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server %d (%s): %w", serverID, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, g.clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with server %d (%s) failed: %w", serverID, addr, err)
	}

	c := ssh.NewClient(sshConn, chans, reqs)
	g.clients[serverID] = c
	logging.Info("SSH connection established to server %d (%s)", serverID, addr)
	return c, nil
}

func (g *SSHGateway) drop(serverID int64, c *ssh.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[serverID] == c {
		delete(g.clients, serverID)
		c.Close()
	}
}

func (g *SSHGateway) session(ctx context.Context, serverID int64) (*ssh.Session, error) {
	c, err := g.client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s, err := c.NewSession()
	if err == nil {
		return s, nil
	}

	// Cached connection went stale; redial once.
	logging.Debug("SSH session on server %d failed (%v), reconnecting", serverID, err)
	g.drop(serverID, c)
	c, err = g.client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s, err = c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session on server %d: %w", serverID, err)
	}
	return s, nil
}

// run executes cmd, feeding stdin if non-nil. A non-zero exit status is not
// an error; cancellation of ctx kills the remote command.
func (g *SSHGateway) run(ctx context.Context, serverID int64, cmd string, stdin io.Reader) (Output, error) {
	s, err := g.session(ctx, serverID)
	if err != nil {
		return Output{}, err
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	s.Stdout = &stdout
	s.Stderr = &stderr
	if stdin != nil {
		s.Stdin = stdin
	}

	logging.Debug("SSH [%d] $ %s", serverID, cmd)
	if err := s.Start(cmd); err != nil {
		return Output{}, fmt.Errorf("failed to start remote command on server %d: %w", serverID, err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = s.Signal(ssh.SIGKILL)
		s.Close()
		// the session copiers own the buffers until Wait returns
		select {
		case <-done:
			return Output{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
		case <-time.After(cancelGrace):
			return Output{}, ctx.Err()
		}
	}

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, fmt.Errorf("remote command on server %d failed: %w", serverID, err)
	}
	if exitErr != nil {
		logging.Debug("SSH [%d] exit status %d", serverID, exitErr.ExitStatus())
	}
	return out, nil
}

// Execute runs cmd through the remote shell.
func (g *SSHGateway) Execute(ctx context.Context, serverID int64, cmd string) (Output, error) {
	return g.run(ctx, serverID, cmd, nil)
}

// StatFile returns the size of path.
func (g *SSHGateway) StatFile(ctx context.Context, serverID int64, path string) (FileInfo, error) {
	out, err := g.run(ctx, serverID, StatCommand(path), nil)
	if err != nil {
		return FileInfo{}, err
	}
	return ParseStat(out.Stdout)
}

// DeleteFile removes path.
func (g *SSHGateway) DeleteFile(ctx context.Context, serverID int64, path string) error {
	out, err := g.run(ctx, serverID, DeleteCommand(path), nil)
	if err != nil {
		return err
	}
	return ParseDelete(out.Stdout)
}

// UploadFile streams localPath to remotePath.
func (g *SSHGateway) UploadFile(ctx context.Context, serverID int64, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	out, err := g.run(ctx, serverID, UploadCommand(remotePath), f)
	if err != nil {
		return err
	}
	return expectSentinel("upload", out.Stdout, uploadDone)
}

// EnsureDirectory creates path on the server.
func (g *SSHGateway) EnsureDirectory(ctx context.Context, serverID int64, path string) error {
	out, err := g.run(ctx, serverID, MkdirCommand(path), nil)
	if err != nil {
		return err
	}
	return expectSentinel("mkdir", out.Stdout, dirReady)
}
