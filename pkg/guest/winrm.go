// Package guest executes PowerShell inside lab guests over WinRM. Sessions
// are cached per target+credential so a machine can be driven first with
// local administrator credentials and later with domain credentials.
package guest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gowinrm "github.com/masterzen/winrm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
	"github.com/r11/hyperv-commander/pkg/metrics"
)

const sessionMaxAge = 300 * time.Second

// Credentials identify an account on a guest. Username carries the
// DOMAIN\user or .\user prefix.
type Credentials struct {
	Username string
	Password string
}

// Target describes a guest reachable over WinRM.
type Target struct {
	Hostname string
	Port     int
	UseSSL   bool
	Creds    Credentials
}

// Runner executes a PowerShell script on one guest.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// ExitError reports a non-zero exit code from the guest.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest command exited with code %d: %s", e.Code, firstLine(e.Stderr))
}

type cachedSession struct {
	client    *gowinrm.Client
	createdAt time.Time
}

// Executor manages WinRM sessions keyed by target and credential.
type Executor struct {
	sessions map[string]*cachedSession
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewExecutor creates an Executor with an empty session cache.
func NewExecutor() *Executor {
	return &Executor{
		sessions: make(map[string]*cachedSession),
		log:      log.With().Str("component", "winrm").Logger(),
	}
}

// Session binds the executor to one target, satisfying Runner.
func (e *Executor) Session(target Target) Runner {
	return &session{exec: e, target: target}
}

type session struct {
	exec   *Executor
	target Target
}

func (s *session) Run(ctx context.Context, script string) (string, error) {
	return s.exec.Run(ctx, s.target, script)
}

// Run executes a script on the target and returns stdout. A non-zero exit
// code is returned as *ExitError so callers can distinguish command
// failure from transport failure.
func (e *Executor) Run(ctx context.Context, target Target, script string) (string, error) {
	start := time.Now()
	out, err := e.execute(ctx, target, script)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.GuestCommandDuration.WithLabelValues("winrm", status).Observe(time.Since(start).Seconds())
	return out, err
}

func (e *Executor) execute(ctx context.Context, target Target, script string) (string, error) {
	client, err := e.getSession(target)
	if err != nil {
		return "", err
	}

	shell, err := client.CreateShell()
	if err != nil {
		metrics.GuestConnectionTotal.WithLabelValues("winrm", "error").Inc()
		e.invalidate(target)
		return "", fmt.Errorf("create shell on %s: %w", target.Hostname, err)
	}
	metrics.GuestConnectionTotal.WithLabelValues("winrm", "ok").Inc()
	defer shell.Close()

	encoded := powershell.EncodeCommand(script)
	cmd, err := shell.ExecuteWithContext(ctx, "powershell.exe",
		"-NoProfile", "-NonInteractive", "-EncodedCommand", encoded)
	if err != nil {
		e.invalidate(target)
		return "", fmt.Errorf("execute on %s: %w", target.Hostname, err)
	}
	defer cmd.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(&stdoutBuf, cmd.Stdout) }()
	go func() { defer wg.Done(); io.Copy(&stderrBuf, cmd.Stderr) }()

	cmd.Wait()
	wg.Wait()

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	if code := cmd.ExitCode(); code != 0 {
		return stdout, &ExitError{Code: code, Stderr: stderr}
	}
	return stdout, nil
}

func (e *Executor) getSession(target Target) (*gowinrm.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionKey(target)
	if cached, ok := e.sessions[key]; ok {
		if time.Since(cached.createdAt) < sessionMaxAge {
			return cached.client, nil
		}
	}

	port := target.Port
	if port == 0 {
		if target.UseSSL {
			port = 5986
		} else {
			port = 5985
		}
	}

	endpoint := gowinrm.NewEndpoint(target.Hostname, port, target.UseSSL, true, nil, nil, nil, 120*time.Second)

	// NTLM is required once the guest is domain joined; Basic is rarely enabled.
	params := gowinrm.NewParameters("PT120S", "en-US", 153600)
	params.TransportDecorator = func() gowinrm.Transporter { return &gowinrm.ClientNTLM{} }

	client, err := gowinrm.NewClientWithParameters(endpoint, target.Creds.Username, target.Creds.Password, params)
	if err != nil {
		return nil, fmt.Errorf("create WinRM client for %s: %w", target.Hostname, err)
	}

	e.sessions[key] = &cachedSession{client: client, createdAt: time.Now()}
	e.log.Debug().Str("host", target.Hostname).Int("port", port).Str("user", target.Creds.Username).Msg("new session")
	return client, nil
}

func (e *Executor) invalidate(target Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionKey(target))
}

// SessionCount returns the number of cached sessions.
func (e *Executor) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func sessionKey(target Target) string {
	return target.Hostname + "|" + target.Creds.Username
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
