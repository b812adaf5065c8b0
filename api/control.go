package api

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/gateway"
)

const writeTimeout = 5 * time.Second

// controlFrame is the single inbound envelope on the control socket: a
// control message when Type is set, otherwise a reply matched by its
// correlation id.
type controlFrame struct {
	Type    string               `json:"type,omitempty"`
	ID      string               `json:"id,omitempty"`
	Error   string               `json:"error,omitempty"`
	Status  int                  `json:"status,omitempty"`
	Headers map[string]string    `json:"headers,omitempty"`
	Body    []byte               `json:"body,omitempty"`
	Data    *gateway.MessageData `json:"data,omitempty"`
}

// wsClient adapts one control connection to the bridge client contract.
type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) Send(ctx context.Context, msg gateway.Message) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(writeCtx, c.conn, msg)
}

// control is the attachment point for the primary-context resolver. The
// connected client receives GATEWAY_REQUEST messages from the bridge and
// writes back replies and control messages. A new connection takes over from
// the previous one.
func (a *API) control(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		zlog.Debug("Control socket accept failed", "error", err.Error())
		return
	}

	client := &wsClient{conn: conn}
	a.bridge.Attach(client)

	ctx := c.Request.Context()

	for {
		var frame controlFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			break
		}

		a.handleFrame(frame)
	}

	a.bridge.Release(client)
	_ = conn.Close(websocket.StatusNormalClosure, "closed")
}

func (a *API) handleFrame(frame controlFrame) {
	if frame.Type != "" {
		ag := a.slot.Active()
		if ag == nil {
			zlog.Debug("Dropping control message, agent not active", "type", frame.Type)
			return
		}

		ag.Deliver(gateway.Message{Type: frame.Type, ID: frame.ID, Data: frame.Data})

		return
	}

	if frame.ID == "" {
		return
	}

	a.bridge.Resolve(gateway.Reply{
		ID:      frame.ID,
		Error:   frame.Error,
		Status:  frame.Status,
		Headers: frame.Headers,
		Body:    frame.Body,
	})
}
