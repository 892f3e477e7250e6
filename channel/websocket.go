package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
)

// Subprotocol is offered alongside the credential on every handshake.
const Subprotocol = "board-v1"

// WebsocketDialer connects to the board server's websocket endpoint.
type WebsocketDialer struct {
	baseURL string
	dialer  websocket.Dialer
}

// NewWebsocketDialer returns a dialer for the server at baseURL, for example
// ws://localhost:8088.
func NewWebsocketDialer(baseURL string) *WebsocketDialer {
	return &WebsocketDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial opens /ws/board/{boardID}. The token travels both as a subprotocol
// and as a bearer header since browsers can only use the former.
func (d *WebsocketDialer) Dial(ctx context.Context, boardID, token string) (Conn, error) {
	target := d.baseURL + "/ws/board/" + url.PathEscape(boardID)
	dialer := d.dialer
	dialer.Subprotocols = []string{Subprotocol, token}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, target, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}
