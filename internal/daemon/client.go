package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/agent-tui/agent-tui/internal/rpc"
)

const (
	// DefaultClientTimeout is the default timeout for a single non-streaming
	// client call.
	DefaultClientTimeout = 5 * time.Second
)

// Client connects to the daemon via its Unix socket and speaks the
// line-delimited JSON-RPC protocol.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a new daemon client.
func NewClient(sockPath string) *Client {
	return &Client{
		sockPath: sockPath,
		timeout:  DefaultClientTimeout,
	}
}

// SetTimeout sets the timeout for client operations.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Call sends a single JSON-RPC request over a fresh connection and returns
// the one response line. It is not suitable for streaming methods; use
// Stream for those.
func (c *Client) Call(method string, params any) (*rpc.Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return nil, c.wrapConnError(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	req := rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw}
	if err := writeLine(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp rpc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("daemon error (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	return &resp, nil
}

// Stream sends a single JSON-RPC request for one of the streaming methods
// (attach_stream, live_preview_stream, flightdeck_stream) and invokes
// onEvent for each event line the daemon writes back, until the
// connection closes or stop is closed. Stream owns the connection and
// closes it when stop fires or onEvent returns a non-nil error.
func (c *Client) Stream(method string, params any, stop <-chan struct{}, onEvent func(map[string]any) error) error {
	conn, err := net.Dial("unix", c.sockPath)
	if err != nil {
		return c.wrapConnError(err)
	}
	defer func() { _ = conn.Close() }()

	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	req := rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw}
	if err := writeLine(conn, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	if stop != nil {
		go func() {
			<-stop
			_ = conn.Close()
		}()
	}

	reader := bufio.NewReaderSize(conn, maxMessageSize)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpc.Response
			if err := json.Unmarshal(line, &resp); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if resp.Error != nil {
				return fmt.Errorf("daemon error (%d): %s", resp.Error.Code, resp.Error.Message)
			}
			payload, ok := resp.Result.(map[string]any)
			if !ok {
				return fmt.Errorf("unexpected event payload shape")
			}
			if err := onEvent(payload); err != nil {
				return err
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

func writeLine(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

// wrapConnError converts connection errors to user-friendly messages.
func (c *Client) wrapConnError(err error) error {
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ENOENT:
			return errors.New("daemon not running (socket not found)")
		case syscall.ECONNREFUSED:
			return errors.New("daemon not running (connection refused)")
		}
	}

	if os.IsNotExist(err) {
		return errors.New("daemon not running (socket not found)")
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.New("daemon request timed out")
	}

	return fmt.Errorf("connect to daemon: %w", err)
}

// IsRunning checks if the daemon is running by attempting to connect.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
