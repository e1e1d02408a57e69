package streamer

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/logging"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	// sendQueueSlots bounds the async send channel; backpressure is
	// enforced by byte count, this only caps packet count.
	sendQueueSlots = 256
)

// serverConn is one established source connection. Sends are queued and
// written by a dedicated goroutine so the packet loop never blocks on the
// network.
type serverConn struct {
	conn net.Conn

	queue      chan []byte
	queueBytes atomic.Int64
	sendErr    atomic.Value // error
	closeOnce  sync.Once
	senderDone chan struct{}
}

// dialServer connects and performs the icecast SOURCE handshake.
func dialServer(p ConnectParams, contentType string) (*serverConn, error) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	var (
		conn net.Conn
		err  error
	)
	if p.UseTLS {
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = tls.DialWithDialer(d, "tcp", addr, nil)
	} else {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	}
	if err != nil {
		return nil, errors.New(err).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	}

	if err := handshake(conn, p, contentType); err != nil {
		conn.Close()
		return nil, err
	}

	c := &serverConn{
		conn:       conn,
		queue:      make(chan []byte, sendQueueSlots),
		senderDone: make(chan struct{}),
	}
	go c.sender()
	return c, nil
}

// handshake sends the SOURCE request and verifies the server accepts it.
func handshake(conn net.Conn, p ConnectParams, contentType string) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	mount := p.Mount
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	auth := base64.StdEncoding.EncodeToString([]byte(p.User + ":" + p.Password))
	public := "0"
	if p.Public {
		public = "1"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SOURCE %s HTTP/1.0\r\n", mount)
	fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&b, "Ice-Public: %s\r\n", public)
	if p.Name != "" {
		fmt.Fprintf(&b, "Ice-Name: %s\r\n", p.Name)
	}
	if p.Genre != "" {
		fmt.Fprintf(&b, "Ice-Genre: %s\r\n", p.Genre)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "Ice-Url: %s\r\n", p.URL)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Ice-Description: %s\r\n", p.Description)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return errors.New(err).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryNetwork).
			Context("operation", "handshake_write").
			Build()
	}

	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return errors.New(err).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryNetwork).
			Context("operation", "handshake_read").
			Build()
	}
	if !strings.Contains(status, " 200 ") {
		return errors.Newf("server refused source: %s", strings.TrimSpace(status)).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// ErrQueueFull reports that the send queue slot cap was hit; the packet is
// dropped but the connection stays up.
var ErrQueueFull = errors.NewStd("send queue full")

// Send queues one payload for the sender goroutine.
func (c *serverConn) Send(data []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.queue <- buf:
		c.queueBytes.Add(int64(len(buf)))
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen returns the bytes currently waiting in the send queue.
func (c *serverConn) QueueLen() int64 {
	return c.queueBytes.Load()
}

// Err returns the first send error, if any.
func (c *serverConn) Err() error {
	if v := c.sendErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close stops the sender and closes the socket.
func (c *serverConn) Close() {
	c.closeOnce.Do(func() {
		close(c.queue)
		<-c.senderDone
		c.conn.Close()
	})
}

func (c *serverConn) sender() {
	defer close(c.senderDone)
	for buf := range c.queue {
		if c.Err() == nil {
			if _, err := c.conn.Write(buf); err != nil {
				c.sendErr.Store(err)
			}
		}
		c.queueBytes.Add(-int64(len(buf)))
	}
}

// UpdateMetadata tells the server about a new stream title through the
// admin endpoint, the same side channel shoutcast-era servers expect. Runs
// in the background; failures only log.
func (c *serverConn) UpdateMetadata(p ConnectParams, title string) {
	scheme := "http"
	if p.UseTLS {
		scheme = "https"
	}
	mount := p.Mount
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/admin/metadata",
		RawQuery: url.Values{
			"mode":  {"updinfo"},
			"mount": {mount},
			"song":  {title},
		}.Encode(),
	}
	go func() {
		req, err := http.NewRequest(http.MethodGet, u.String(), nil)
		if err != nil {
			return
		}
		req.SetBasicAuth(p.User, p.Password)
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			logging.ForService("streamer").Warn("metadata update failed", "error", err)
			return
		}
		resp.Body.Close()
		client.CloseIdleConnections()
	}()
}
