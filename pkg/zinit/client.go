package zinit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/psantana5/zinitctl/pkg/logging"
	"github.com/psantana5/zinitctl/pkg/retry"
)

// DefaultSocket is where zinit listens for control commands
const DefaultSocket = "/var/run/zinit.sock"

const defaultPollInterval = 500 * time.Millisecond

// RemoteError is an error reported by zinit itself over the socket
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("zinit %s: %s", e.Command, e.Message)
}

// IsRemoteError reports whether err was returned by zinit over the socket
func IsRemoteError(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// InvalidNameError rejects a service name that cannot be sent as a single
// word of the socket protocol
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid service name %q: must be non-empty without whitespace or control characters", e.Name)
}

// IsInvalidName reports whether err is an *InvalidNameError
func IsInvalidName(err error) bool {
	var invalid *InvalidNameError
	return errors.As(err, &invalid)
}

// validName guards the line protocol: one command per line, words split on spaces
func validName(name string) error {
	if name == "" || strings.ContainsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) {
		return &InvalidNameError{Name: name}
	}
	return nil
}

// Client talks to zinit over its unix control socket. Every command uses its
// own connection, so a Client is safe for concurrent use.
type Client struct {
	socket       string
	dialer       net.Dialer
	retry        retry.Config
	pollInterval time.Duration
	log          *logging.Logger
}

// NewClient creates a client for the given socket path (DefaultSocket if empty)
func NewClient(socket string) *Client {
	if socket == "" {
		socket = DefaultSocket
	}
	return &Client{
		socket: socket,
		retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2.0,
		},
		pollInterval: defaultPollInterval,
		log:          logging.NewNopLogger(),
	}
}

// SetLogger sets the logger used for warnings during StopWait
func (c *Client) SetLogger(log *logging.Logger) {
	if log != nil {
		c.log = log
	}
}

// Default returns a client for DefaultSocket
func Default() *Client {
	return NewClient("")
}

// Socket returns the socket path the client dials
func (c *Client) Socket() string {
	return c.socket
}

// List returns every service zinit knows about with its state
func (c *Client) List(ctx context.Context) (map[string]ServiceState, error) {
	out, err := c.cmd(ctx, "list")
	if err != nil {
		return nil, err
	}
	return parseList(out)
}

// Status returns the detailed status of one service
func (c *Client) Status(ctx context.Context, name string) (ServiceStatus, error) {
	out, err := c.serviceCmd(ctx, "status", name)
	if err != nil {
		return ServiceStatus{}, err
	}
	return parseStatus(out)
}

// Start sets the service target to up
func (c *Client) Start(ctx context.Context, name string) error {
	_, err := c.serviceCmd(ctx, "start", name)
	return err
}

// Stop sets the service target to down
func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.serviceCmd(ctx, "stop", name)
	return err
}

// Monitor loads the service definition and starts supervising it
func (c *Client) Monitor(ctx context.Context, name string) error {
	_, err := c.serviceCmd(ctx, "monitor", name)
	return err
}

// Forget drops a stopped service from zinit
func (c *Client) Forget(ctx context.Context, name string) error {
	_, err := c.serviceCmd(ctx, "forget", name)
	return err
}

// Kill sends a signal to the service process
func (c *Client) Kill(ctx context.Context, name string, sig syscall.Signal) error {
	_, err := c.serviceCmd(ctx, "kill", name, SignalName(sig))
	return err
}

// StartWait starts the service and waits until zinit reports it running
// (or, for oneshot services, successfully completed).
func (c *Client) StartWait(ctx context.Context, timeout time.Duration, name string) error {
	if err := c.Start(ctx, name); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		status, err := c.Status(ctx, name)
		if err != nil {
			return err
		}

		if status.State.Is(StateRunning) || status.State.Is(StateSuccess) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("service '%s' did not start within %s (state: %s)", name, timeout, status.State)
		case <-time.After(c.pollInterval):
		}
	}
}

// StopWait stops all given services and waits for them to exit. Services
// still alive when timeout expires are sent SIGKILL. Services zinit does not
// know about are skipped.
func (c *Client) StopWait(ctx context.Context, timeout time.Duration, names ...string) error {
	pending := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := c.Stop(ctx, name); err != nil {
			var remote *RemoteError
			if errors.As(err, &remote) {
				continue
			}
			return err
		}
		pending[name] = struct{}{}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(pending) > 0 {
		for name := range pending {
			status, err := c.Status(ctx, name)
			if err != nil {
				return err
			}

			// another client put it back up; waiting would never end
			if status.Target != TargetDown {
				return fmt.Errorf("expected service '%s' target to be down, found %s", name, status.Target)
			}

			if status.State.Exited() {
				delete(pending, name)
			}
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			for name := range pending {
				if err := c.Kill(ctx, name, syscall.SIGKILL); err != nil {
					c.log.Warn("Failed to kill service after stop timeout", map[string]interface{}{
						"service": name,
						"error":   err,
					})
				}
			}
		case <-time.After(c.pollInterval):
		}
	}

	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		conn, err = c.dialer.DialContext(ctx, "unix", c.socket)
		if err != nil && !retry.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zinit at %s: %w", c.socket, err)
	}
	return conn, nil
}

func (c *Client) serviceCmd(ctx context.Context, verb, name string, args ...string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return c.cmd(ctx, strings.Join(append([]string{verb, name}, args...), " "))
}

func (c *Client) cmd(ctx context.Context, command string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q to zinit: %w", command, err)
	}

	verb, _, _ := strings.Cut(command, " ")
	return readResponse(conn, verb)
}

func readResponse(conn net.Conn, verb string) (string, error) {
	headers := map[string]string{}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", fmt.Errorf("malformed zinit response header: %q", line)
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error while reading socket: %w", err)
	}

	count, err := strconv.ParseUint(headers["lines"], 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid lines header %q: %w", headers["lines"], err)
	}

	var content strings.Builder
	for i := uint64(0); i < count; i++ {
		if !scanner.Scan() {
			break
		}
		content.WriteString(scanner.Text())
		content.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error while reading socket: %w", err)
	}

	body := strings.TrimSpace(content.String())
	if headers["status"] == "error" {
		return "", &RemoteError{Command: verb, Message: body}
	}

	return body, nil
}
