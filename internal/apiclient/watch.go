package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"deepscan/internal/progress"
)

// Watch streams progress events for a job until a terminal event arrives,
// the server closes the stream, or ctx ends. fn runs for every event.
func (c *Client) Watch(ctx context.Context, id string, fn func(progress.Event)) (progress.Event, error) {
	target := c.endpoint("/v1/jobs/"+url.PathEscape(id)+"/events", nil)
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return progress.Event{}, &Error{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		if IsAPIUnavailable(err) {
			return progress.Event{}, fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
		}
		return progress.Event{}, err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var last progress.Event
	for {
		var evt progress.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return last, nil
			}
			return last, fmt.Errorf("read progress: %w", err)
		}
		last = evt
		if fn != nil {
			fn(evt)
		}
		if evt.Terminal() {
			return last, nil
		}
	}
}
