// Package kiosk is the device side of the bridge: it keeps one channel to the
// server open and feeds received envelopes, in order, to the credit guard.
package kiosk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"pixbridge/pkg/models"

	"github.com/gorilla/websocket"
)

// CloseDeviceIDChange is the close code sent after the device id changes.
const CloseDeviceIDChange = 4100

// Handler consumes envelopes one at a time.
type Handler interface {
	Handle(env models.Envelope)
}

// Options configures a Client.
type Options struct {
	ServerURL      string
	Token          string
	ReconnectDelay time.Duration
}

// Client maintains the device channel.
type Client struct {
	opts     Options
	identity *Identity
	handler  Handler
	dialer   *websocket.Dialer
}

// NewClient creates a client. Run starts it.
func NewClient(opts Options, identity *Identity, handler Handler) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	return &Client{
		opts:     opts,
		identity: identity,
		handler:  handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run connects and reconnects on a fixed delay until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Channel lost", "component", "Kiosk", "error", err,
				"retry_in", c.opts.ReconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// Endpoint builds the dial URL for deviceID.
func (c *Client) Endpoint(deviceID string) (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	q.Set("device_id", deviceID)
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) session(ctx context.Context) error {
	deviceID := c.identity.ID()
	endpoint, err := c.Endpoint(deviceID)
	if err != nil {
		return err
	}

	slog.Debug("Connecting", "component", "Kiosk", "device_id", deviceID)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	slog.Info("Channel open", "component", "Kiosk", "device_id", deviceID)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Ignoring undecodable message", "component", "Kiosk", "error", err)
			continue
		}
		slog.Debug("Message received", "component", "Kiosk",
			"event_type", env.EventType, "event_id", env.EventID)

		if env.EventType == models.EventSetDeviceID {
			if c.changeIdentity(conn, env) {
				return nil
			}
			continue
		}
		c.handler.Handle(env)
	}
}

// changeIdentity persists the new id and closes the channel so the next
// connection announces it. It reports whether the channel was closed.
func (c *Client) changeIdentity(conn *websocket.Conn, env models.Envelope) bool {
	newID := strings.TrimSpace(env.PayloadString("newId"))
	if newID == "" {
		slog.Warn("set_device_id without newId", "component", "Kiosk")
		return false
	}
	if err := c.identity.Set(newID); err != nil {
		slog.Error("Failed to change device id", "component", "Kiosk", "error", err)
		return false
	}
	slog.Info("Device id changed", "component", "Kiosk", "device_id", newID)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseDeviceIDChange, "device id change"),
		time.Now().Add(time.Second))
	return true
}
