package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/stageflight/internal/metrics"
)

// writeTimeout bounds each message write.
const writeTimeout = 30 * time.Second

// client writes stream messages to one connection.
type client interface {
	sendJSON(v any) error
	transport() string
}

// sseClient manages a single SSE connection's write operations.
type sseClient struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

func (c *sseClient) transport() string { return "sse" }

// sendJSON marshals v and sends it as an SSE "data:" message.
func (c *sseClient) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()
	c.record(n)
	return nil
}

func (c *sseClient) record(n int) {
	c.messagesSent++
	c.bytesSent += int64(n)
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
}

// wsClient writes JSON text frames to a websocket.
type wsClient struct {
	conn *websocket.Conn

	messagesSent int64
	bytesSent    int64
}

func (c *wsClient) transport() string { return "websocket" }

func (c *wsClient) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.messagesSent++
	c.bytesSent += int64(len(data))
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(len(data)))
	return nil
}

// close sends a close frame with the given code and reason.
func (c *wsClient) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}
