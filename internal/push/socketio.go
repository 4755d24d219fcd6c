package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO v5 packet types, carried inside Engine.IO messages.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

const (
	sioHandshakeTimeout = 10 * time.Second
	sioReadTimeout      = time.Minute
)

// SocketIOTransport connects to a Socket.IO server over a websocket-only
// Engine.IO v4 session. Events are exchanged on a single namespace.
type SocketIOTransport struct {
	URL       string
	Namespace string
	Header    http.Header
	Dialer    *websocket.Dialer
}

func NewSocketIOTransport(url string) *SocketIOTransport {
	return &SocketIOTransport{
		URL:       url,
		Namespace: "/",
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: sioHandshakeTimeout,
		},
	}
}

// SocketIOURL maps a server base URL onto its Engine.IO websocket endpoint,
// e.g. http://host:5000 to ws://host:5000/socket.io/?EIO=4&transport=websocket.
func SocketIOURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("parse push url: unsupported scheme %q", u.Scheme)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/socket.io") {
		path += "/socket.io"
	}
	u.Path = path + "/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}

func (t *SocketIOTransport) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := t.Dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	nsp := t.Namespace
	if nsp == "" {
		nsp = "/"
	}
	c := &sioConn{ws: ws, nsp: nsp, readTimeout: sioReadTimeout}
	if err := c.handshake(ctx); err != nil {
		ws.Close()
		return nil, fmt.Errorf("socket.io handshake: %w", err)
	}
	return c, nil
}

type sioConn struct {
	ws          *websocket.Conn
	nsp         string
	readTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type eioOpenPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// handshake reads the Engine.IO open packet and joins the namespace.
func (c *sioConn) handshake(ctx context.Context) error {
	deadline := time.Now().Add(sioHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}

	frame, err := c.read()
	if err != nil {
		return err
	}
	if frame == "" || frame[0] != eioOpen {
		return fmt.Errorf("unexpected open packet %q", frame)
	}
	var open eioOpenPayload
	if err := json.Unmarshal([]byte(frame[1:]), &open); err != nil {
		return fmt.Errorf("decode open packet: %w", err)
	}
	if open.PingInterval > 0 {
		c.readTimeout = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	}

	if err := c.write(string([]byte{eioMessage, sioConnect}) + c.nspPrefix()); err != nil {
		return err
	}
	for {
		frame, err := c.read()
		if err != nil {
			return err
		}
		if frame == "" {
			continue
		}
		switch frame[0] {
		case eioPing:
			if err := c.write(string(eioPong) + frame[1:]); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the session")
		case eioMessage:
			typ, nsp, payload := parsePacket(frame[1:])
			if nsp != c.nsp {
				continue
			}
			switch typ {
			case sioConnect:
				return nil
			case sioConnectError:
				return fmt.Errorf("namespace %s refused: %s", c.nsp, payload)
			}
		}
	}
}

func (c *sioConn) nspPrefix() string {
	if c.nsp == "/" {
		return ""
	}
	return c.nsp + ","
}

func (c *sioConn) read() (string, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *sioConn) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *sioConn) Send(m Message) error {
	args := []any{m.Event}
	if len(m.Data) > 0 {
		args = append(args, m.Data)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return c.write(string([]byte{eioMessage, sioEvent}) + c.nspPrefix() + string(b))
}

// Receive answers server pings itself and returns the next event on the
// namespace. A server-side close is reported as a disconnect signal.
func (c *sioConn) Receive() (Message, error) {
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return Message{}, err
		}
		frame, err := c.read()
		if err != nil {
			return Message{}, err
		}
		if frame == "" {
			continue
		}
		switch frame[0] {
		case eioPing:
			if err := c.write(string(eioPong) + frame[1:]); err != nil {
				return Message{}, err
			}
		case eioClose:
			return Message{Event: signalDisconnect}, nil
		case eioMessage:
			typ, nsp, payload := parsePacket(frame[1:])
			if nsp != c.nsp {
				continue
			}
			switch typ {
			case sioDisconnect:
				return Message{Event: signalDisconnect}, nil
			case sioEvent:
				m, err := decodeSocketIOEvent(payload)
				if err != nil {
					log.Printf("push: socket.io: dropping malformed event: %v", err)
					continue
				}
				return m, nil
			}
		}
	}
}

func (c *sioConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.write(string([]byte{eioMessage, sioDisconnect}) + c.nspPrefix())
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// parsePacket splits a Socket.IO packet into its type, namespace and JSON
// payload, skipping any binary attachment count and ack id.
func parsePacket(s string) (typ byte, nsp, payload string) {
	nsp = "/"
	if s == "" {
		return 0, nsp, ""
	}
	typ, s = s[0], s[1:]
	if i := strings.IndexByte(s, '-'); i > 0 && digits(s[:i]) {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "/") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			nsp, s = s[:i], s[i+1:]
		} else {
			nsp, s = s, ""
		}
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return typ, nsp, s[i:]
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// decodeSocketIOEvent turns ["name", data, ...] into a Message carrying the
// first argument.
func decodeSocketIOEvent(payload string) (Message, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return Message{}, err
	}
	if len(args) == 0 {
		return Message{}, errors.New("event without a name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Message{}, fmt.Errorf("event name: %w", err)
	}
	m := Message{Event: name}
	if len(args) > 1 {
		m.Data = args[1]
	}
	return m, nil
}
