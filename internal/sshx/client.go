// Package sshx opens authenticated remote-execution sessions against
// deployment targets. One client owns one SSH connection; commands run in
// short-lived sessions guarded by a circuit breaker, and the initial dial is
// retried with exponential backoff.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"shipbox/internal/plan"
)

const (
	DefaultPort        = 22
	DefaultDialTimeout = 10 * time.Second
)

// Config describes how to reach and authenticate against one target host.
type Config struct {
	Host string
	Port int
	User string

	// KeyFile is the path to the PEM-encoded private key. The key material
	// is read at dial time and never logged.
	KeyFile string

	// KnownHostsFile enables host key verification against an OpenSSH
	// known_hosts file. Required unless InsecureIgnoreHostKey is set.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification. Only intended
	// for first-boot hosts and tests.
	InsecureIgnoreHostKey bool

	DialTimeout time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", port))
}

// Client is an authenticated remote-execution channel to a single target.
type Client struct {
	host    string
	client  *ssh.Client
	breaker *gobreaker.CircuitBreaker
}

// Dial opens an SSH connection to the target. Network failures are retried
// with exponential backoff until ctx is done; authentication failures are
// permanent and abort the retry loop immediately.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	var client *ssh.Client
	operation := func() error {
		client, err = ssh.Dial("tcp", cfg.addr(), clientCfg)
		if err == nil {
			return nil
		}
		if isAuthFailure(err) {
			return backoff.Permanent(&AuthError{Host: cfg.Host, User: cfg.User, Err: err})
		}
		return err
	}

	policy := backoff.WithContext(dialBackoff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &UnreachableError{Host: cfg.Host, Err: err}
	}

	cbs := gobreaker.Settings{
		Name:     "ssh-session-" + cfg.Host,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Client{
		host:    cfg.Host,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(cbs),
	}, nil
}

// Run executes a command in a fresh session and captures its output.
// A non-zero remote exit status is reported in the Result, not as an error;
// the returned error is reserved for transport-level failures.
func (c *Client) Run(ctx context.Context, command string) (*plan.Result, error) {
	sess, err := c.newSession()
	if err != nil {
		return nil, &UnreachableError{Host: c.host, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	start := time.Now()
	runErr := runSession(ctx, sess, command)
	result := &plan.Result{
		Stdout:   strings.TrimRight(stdout.String(), "\n"),
		Stderr:   strings.TrimRight(stderr.String(), "\n"),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &UnreachableError{Host: c.host, Err: runErr}
	}

	return result, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// newSession opens a session through the circuit breaker so a flapping
// connection stops being hammered after repeated failures.
func (c *Client) newSession() (*ssh.Session, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.client.NewSession()
	})
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return res.(*ssh.Session), nil
}

// runSession starts the command and waits for it, honoring ctx cancellation
// by closing the session.
func runSession(ctx context.Context, sess *ssh.Session, command string) error {
	if err := sess.Start(command); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	auth, err := publicKeyAuth(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !cfg.InsecureIgnoreHostKey {
		if cfg.KnownHostsFile == "" {
			return nil, fmt.Errorf("host key verification requires a known_hosts file (or insecure_ignore_host_key)")
		}
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHostsFile, err)
		}
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(string) error { return nil },
	}, nil
}

func publicKeyAuth(keyFile string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

func dialBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
