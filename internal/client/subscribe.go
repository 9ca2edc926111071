package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Subscribe streams state changes from the server. An empty repo receives
// changes for every repository. The channel is closed when ctx is done or
// the connection drops.
func (c *Client) Subscribe(ctx context.Context, repo string) (<-chan model.StateChange, error) {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws"
	if repo != "" {
		u += "?repo=" + url.QueryEscape(repo)
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.http.Timeout}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, errs.E(errs.FromStatus(resp.StatusCode), "client.Subscribe", err.Error())
		}
		return nil, errs.Wrap(errs.Transport, "client.Subscribe", err)
	}

	out := make(chan model.StateChange, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("subscription closed", "error", err)
				}
				return
			}
			if msg.Type != "state_changed" {
				continue
			}
			var ev model.StateChange
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				c.logger.Warn("bad state_changed payload", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
