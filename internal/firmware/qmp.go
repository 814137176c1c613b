package firmware

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

// qmpMessage is any line the emulator sends: greeting, reply or async event.
type qmpMessage struct {
	QMP    json.RawMessage `json:"QMP,omitempty"`
	Return json.RawMessage `json:"return,omitempty"`
	Error  *qmpError       `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
}

type qmpError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

type qmpCommand struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

// QMPClient is a single-client connection to an emulator's control socket.
// It is not safe for concurrent use; the Manager serializes access per team.
type QMPClient struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// DialQMP connects to addr, reads the greeting and negotiates capabilities.
// The whole handshake must finish within connectTimeout. commandTimeout
// bounds each later command.
func DialQMP(ctx context.Context, addr string, connectTimeout, commandTimeout time.Duration) (*QMPClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError("qmp connect "+addr, connectTimeout).WithCause(err)
		}
		return nil, fmt.Errorf("qmp connect %s: %w", addr, err)
	}

	c := &QMPClient{conn: conn, reader: bufio.NewReader(conn), timeout: commandTimeout}
	deadline := time.Now().Add(connectTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.handshake(deadline); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *QMPClient) handshake(deadline time.Time) error {
	_ = c.conn.SetDeadline(deadline)
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	greeting, err := c.readMessage()
	if err != nil {
		return fmt.Errorf("qmp greeting: %w", err)
	}
	if len(greeting.QMP) == 0 {
		return fmt.Errorf("qmp greeting: unexpected first message")
	}
	if _, err := c.roundTrip(qmpCommand{Execute: "qmp_capabilities"}); err != nil {
		return fmt.Errorf("qmp_capabilities: %w", err)
	}
	return nil
}

// Execute sends a command and returns its "return" payload. An "error" reply
// is returned as an error.
func (c *QMPClient) Execute(ctx context.Context, command string, args any) (json.RawMessage, error) {
	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetDeadline(deadline)
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	ret, err := c.roundTrip(qmpCommand{Execute: command, Arguments: args})
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, errors.NewTimeoutError("qmp "+command, c.timeout).WithCause(err)
		}
		return nil, err
	}
	return ret, nil
}

// HumanMonitorCommand runs a monitor command line such as "savevm golden".
// The monitor reports failures as text, so any reply mentioning "error" is
// treated as a failure.
func (c *QMPClient) HumanMonitorCommand(ctx context.Context, cmdline string) (string, error) {
	ret, err := c.Execute(ctx, "human-monitor-command", map[string]string{"command-line": cmdline})
	if err != nil {
		return "", err
	}
	var text string
	if len(ret) > 0 {
		if err := json.Unmarshal(ret, &text); err != nil {
			return "", fmt.Errorf("human-monitor-command: unexpected return %s", string(ret))
		}
	}
	if strings.Contains(strings.ToLower(text), "error") {
		return text, fmt.Errorf("%s: %s", cmdline, strings.TrimSpace(text))
	}
	return text, nil
}

// Close closes the connection.
func (c *QMPClient) Close() error {
	return c.conn.Close()
}

func (c *QMPClient) roundTrip(cmd qmpCommand) (json.RawMessage, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write %s: %w", cmd.Execute, err)
	}

	for {
		msg, err := c.readMessage()
		if err != nil {
			return nil, fmt.Errorf("read %s reply: %w", cmd.Execute, err)
		}
		switch {
		case msg.Event != "":
			continue // async events interleave with replies
		case msg.Error != nil:
			return nil, fmt.Errorf("%s: %s: %s", cmd.Execute, msg.Error.Class, msg.Error.Desc)
		case msg.Return != nil:
			return msg.Return, nil
		default:
			return nil, fmt.Errorf("%s: reply has neither return nor error", cmd.Execute)
		}
	}
}

func (c *QMPClient) readMessage() (*qmpMessage, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var msg qmpMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("malformed qmp message: %w", err)
	}
	return &msg, nil
}
