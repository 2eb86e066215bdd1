package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a rule-change notification pushed by the controller.
type Event struct {
	Type   string `json:"type"` // "rule.updated", "rule.deleted"
	RuleID string `json:"rule_id"`
}

// TailEvents connects to the websocket endpoint and streams rule-change
// events. This blocks until the connection is closed; the handler is called
// for each event. The caller is expected to reconnect on error. The event
// stream is an optimization over polling, never the only refresh trigger.
func (c *HTTPClient) TailEvents(onEvent func(Event)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		fmt.Sprintf("/api/sites/%s/ws/events", c.site)

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = transport.TLSClientConfig
	}

	conn, _, err := dialer.Dial(wsURL, headers)
	if err != nil {
		return transportError("tail-events", err)
	}
	defer conn.Close()

	subMsg := map[string]any{
		"action": "subscribe",
		"topics": []string{"downtime-rules"},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return transportError("tail-events", err)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return transportError("tail-events", err)
		}

		var msg struct {
			Topic string          `json:"topic"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Skip malformed
		}

		if msg.Topic == "downtime-rules" {
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			if ev.RuleID != "" {
				onEvent(ev)
			}
		}
	}
}
