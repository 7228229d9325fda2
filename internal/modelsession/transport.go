package modelsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn adapts *websocket.Conn to the Conn interface, following the
// teacher's pkg/provider/s2s/openai dial-and-JSON-frame style.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("modelsession: marshal: %w", err)
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) ReadJSON(ctx context.Context, v any) error {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// dialWebsocket is the default DialFunc, dialing a real websocket endpoint
// with a bearer-token Authorization header.
func dialWebsocket(ctx context.Context, cfg Config) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.APIKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("modelsession: dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}
