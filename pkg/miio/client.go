package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

const (
	defaultTimeout = 3 * time.Second
	maxDatagram    = 4096
)

// Config configures a Client.
type Config struct {
	// Addr is the device address, host or host:port. The default port is
	// appended when missing.
	Addr string

	// Token is the 32-character hex device token.
	Token string

	// Conn is an optional pre-existing PacketConn to use. If nil, a new
	// UDP connection is created.
	Conn net.PacketConn

	// Timeout bounds each request/response exchange. Zero means a 3s
	// default. A context deadline shorter than this wins.
	Timeout time.Duration

	// LoggerFactory creates the package logger. If nil, a default factory
	// is used.
	LoggerFactory logging.LoggerFactory
}

// Client exchanges encrypted JSON commands with a single device over UDP.
// A Handshake must complete before the first Send; it learns the device ID
// and synchronizes the device's uptime stamp.
type Client struct {
	addr    net.Addr
	conn    net.PacketConn
	ownConn bool
	codec   *Codec
	timeout time.Duration
	log     logging.LeveledLogger

	mu       sync.Mutex
	id       int
	deviceID uint32
	stamp    uint32
	stampAt  time.Time
}

// NewClient creates a client for one device.
func NewClient(config Config) (*Client, error) {
	codec, err := NewCodec(config.Token)
	if err != nil {
		return nil, err
	}

	host := config.Addr
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = fmt.Sprintf("%s:%d", host, Port)
	}
	addr, err := net.ResolveUDPAddr("udp", host)
	if err != nil {
		return nil, fmt.Errorf("miio: resolving %s: %w", config.Addr, err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	c := &Client{
		addr:    addr,
		conn:    config.Conn,
		codec:   codec,
		timeout: timeout,
		log:     factory.NewLogger("miio"),
	}
	if c.conn == nil {
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return nil, err
		}
		c.conn = conn
		c.ownConn = true
	}
	return c, nil
}

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	if c.ownConn {
		return c.conn.Close()
	}
	return nil
}

// Handshake sends a hello frame and records the device ID and stamp from
// the reply. Safe to call again to resynchronize the stamp.
func (c *Client) Handshake(ctx context.Context) error {
	raw, err := c.exchange(ctx, Hello())
	if err != nil {
		return fmt.Errorf("miio: handshake: %w", err)
	}
	pkt, err := ParsePacket(raw, c.codec.Token())
	if err != nil {
		return fmt.Errorf("miio: handshake: %w", err)
	}

	c.mu.Lock()
	c.deviceID = pkt.DeviceID
	c.stamp = pkt.Stamp
	c.stampAt = time.Now()
	c.mu.Unlock()

	c.log.Debugf("handshake with device %08x, stamp %d", pkt.DeviceID, pkt.Stamp)
	return nil
}

// Send issues one method call and returns the raw result value. A non-zero
// error object in the reply is returned as a DeviceError.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	c.mu.Lock()
	if c.stampAt.IsZero() {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	c.id++
	req := struct {
		ID     int    `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params"`
	}{c.id, method, params}
	pkt := &Packet{
		DeviceID: c.deviceID,
		Stamp:    c.stamp + uint32(time.Since(c.stampAt)/time.Second),
	}
	c.mu.Unlock()

	plain, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	pkt.Payload = c.codec.Encrypt(plain)

	raw, err := c.exchange(ctx, pkt.Marshal(c.codec.Token()))
	if err != nil {
		return nil, fmt.Errorf("miio: %s: %w", method, err)
	}
	reply, err := ParsePacket(raw, c.codec.Token())
	if err != nil {
		return nil, fmt.Errorf("miio: %s: %w", method, err)
	}
	body, err := c.codec.Decrypt(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("miio: %s: %w", method, err)
	}

	var resp struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *DeviceError    `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("miio: %s: decoding reply: %w", method, err)
	}
	if resp.Error != nil && resp.Error.Code != 0 {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// exchange writes one datagram and reads one reply under the deadline.
func (c *Client) exchange(ctx context.Context, out []byte) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.conn.WriteTo(out, c.addr); err != nil {
		return nil, contextualize(ctx, err)
	}
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			return nil, contextualize(ctx, err)
		}
		// Ignore datagrams from other hosts on a shared socket.
		if from.String() != c.addr.String() {
			continue
		}
		return append([]byte(nil), buf[:n]...), nil
	}
}

// contextualize maps socket errors to the context's error when the context
// is responsible. The socket deadline can fire before the context's own
// timer, so a timed-out read past the context deadline still reports
// context.DeadlineExceeded.
func contextualize(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
	}
	return err
}
