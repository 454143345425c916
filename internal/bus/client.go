package bus

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"distributed-rollout/internal/protocol"
)

// Client is the worker-side connection to a hub.
type Client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the hub at host:port and joins the given group under
// the given identity.
func Dial(host string, port int, group, id, role string) (*Client, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   busPath,
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", u.String(), err)
	}
	if err := conn.WriteJSON(joinFrame{Group: group, Role: role, ID: id}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: join as %q: %w", id, err)
	}
	return &Client{id: id, conn: conn}, nil
}

// ID reports the identity this client joined under.
func (c *Client) ID() string { return c.id }

// Receive blocks until the next envelope from the hub arrives.
func (c *Client) Receive() (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("bus: receive: %w", err)
	}
	return env, nil
}

// Send delivers an envelope to the hub.
func (c *Client) Send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("bus: send: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
