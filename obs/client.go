package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// minServerVersion gates the obs-websocket plugin version.
var minServerVersion = semver.MustParse("5.0.0")

// ErrClosed is returned by calls made on, or pending when, the socket closes.
var ErrClosed = errors.New("obs connection closed")

// RequestError is a failed request status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obs %s failed (%d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("obs %s failed (%d)", e.RequestType, e.Code)
}

// Client is an identified OBS WebSocket v5 session.
type Client struct {
	conn    *websocket.Conn
	version string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan responseData

	done      chan struct{}
	closeOnce sync.Once
}

// Endpoint builds the websocket URL from host and port. host may carry a ws:// or wss://
// scheme.
func Endpoint(host, port string) string {
	host = strings.TrimSuffix(host, "/")
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host + ":" + port
	}
	return "ws://" + net.JoinHostPort(host, port)
}

// Dial connects to url and completes Hello/Identify. The returned client reads responses
// in the background until Close or until the peer closes.
func Dial(ctx context.Context, url, password string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	version, err := identify(ctx, conn, password)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c := &Client{
		conn:    conn,
		version: version,
		pending: make(map[string]chan responseData),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func identify(ctx context.Context, conn *websocket.Conn, password string) (string, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var hello helloData
	if err := readOp(conn, opHello, &hello); err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	v, err := semver.NewVersion(hello.OBSWebSocketVersion)
	if err != nil {
		return "", fmt.Errorf("parse obs-websocket version %q: %w", hello.OBSWebSocketVersion, err)
	}
	if v.LessThan(minServerVersion) {
		return "", fmt.Errorf("obs-websocket %s is not supported, need >= %s", v, minServerVersion)
	}

	id := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		if password == "" {
			return "", errors.New("obs requires a password")
		}
		id.Authentication = authString(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := writeOp(conn, opIdentify, id); err != nil {
		return "", fmt.Errorf("send identify: %w", err)
	}
	if err := readOp(conn, opIdentified, nil); err != nil {
		switch {
		case websocket.IsCloseError(err, closeAuthenticationFailed):
			return "", errors.New("obs authentication failed")
		case websocket.IsCloseError(err, closeUnsupportedRPC):
			return "", errors.New("obs rejected rpc version")
		}
		return "", fmt.Errorf("read identified: %w", err)
	}
	return v.String(), nil
}

func readOp(conn *websocket.Conn, op int, out any) error {
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Op != op {
		return fmt.Errorf("unexpected op %d, want %d", msg.Op, op)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(msg.D, out)
}

func writeOp(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(message{Op: op, D: raw})
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !errors.Is(err, net.ErrClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("obs read loop ended", slog.Any("err", err), slog.String("component", "obs"))
			}
			return
		}
		if msg.Op != opRequestResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			slog.Warn("obs: bad response", slog.Any("err", err), slog.String("component", "obs"))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Version is the obs-websocket version reported in Hello.
func (c *Client) Version() string { return c.version }

// Done is closed once the socket is closed by either side.
func (c *Client) Done() <-chan struct{} { return c.done }

// Call sends a request and decodes responseData into out when out is non-nil.
func (c *Client) Call(ctx context.Context, requestType string, data, out any) error {
	id := uuid.NewString()
	ch := make(chan responseData, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := writeOp(c.conn, opRequest, requestData{RequestType: requestType, RequestID: id, RequestData: data})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", requestType, err)
	}

	select {
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			return &RequestError{RequestType: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			return json.Unmarshal(resp.ResponseData, out)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a close frame and closes the socket.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}
