// Package wsgateway implements SubscriberGateway (spec.md §6): the
// WebSocket endpoint that authenticates a client, subscribes it to a
// container's EventBus hub, and dispatches inbound control frames to the
// RuntimeSupervisor.
package wsgateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/melih/lightd/internal/httpapi"
	"github.com/melih/lightd/internal/runtime"
	"github.com/rs/zerolog/log"
)

// sendTimeout closes a subscriber whose outbound send blocks past this
// deadline, per spec.md §5's "WebSocket send is async; a send timeout of
// 10s closes the subscriber."
const sendTimeout = 10 * time.Second

// Gateway holds the collaborators a WebSocket session needs.
type Gateway struct {
	bus   *eventbus.Bus
	sup   *runtime.Supervisor
	token string
}

func New(bus *eventbus.Bus, sup *runtime.Supervisor, token string) *Gateway {
	return &Gateway{bus: bus, sup: sup, token: token}
}

// Upgrade is the Fiber middleware that gates the WebSocket upgrade on
// token validity before handing off to websocket.New.
func (g *Gateway) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if !httpapi.TokenValid(g.token, c.Query("token")) {
		return fiber.ErrUnauthorized
	}
	return c.Next()
}

// Handler returns the fiber.Handler to mount at /ws/:id.
func (g *Gateway) Handler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		internalID := c.Params("id")
		sub := g.bus.Subscribe(internalID)
		defer sub.Close()

		done := make(chan struct{})
		go g.readInbound(c, internalID, done)

		for _, ev := range sub.History {
			if err := g.writeEvent(c, ev); err != nil {
				return
			}
		}

		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := g.writeEvent(c, ev); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}

func (g *Gateway) writeEvent(c *websocket.Conn, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = c.SetWriteDeadline(time.Now().Add(sendTimeout))
	return c.WriteMessage(websocket.TextMessage, raw)
}

// readInbound decodes client frames and dispatches send_command/power/
// request_logs, closing done when the connection ends.
func (g *Gateway) readInbound(c *websocket.Conn, internalID string, done chan<- struct{}) {
	defer close(done)
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		var frame domain.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("malformed inbound ws frame")
			continue
		}
		g.dispatch(c, internalID, frame)
	}
}

func (g *Gateway) dispatch(c *websocket.Conn, internalID string, frame domain.InboundFrame) {
	switch frame.Event {
	case domain.InboundSendCommand:
		if err := g.sup.SendCommand(context.Background(), internalID, []byte(frame.Command)); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("send_command failed")
		}
	case domain.InboundPower:
		g.dispatchPower(c, internalID, frame.Action)
	case domain.InboundRequestLogs:
		history := g.bus.HistorySnapshot(internalID)
		raw, err := json.Marshal(history)
		if err == nil {
			_ = g.writeEvent(c, domain.Event{Tag: domain.EventLogs, Data: string(raw)})
		}
	}
}

func (g *Gateway) dispatchPower(c *websocket.Conn, internalID, action string) {
	ctx := context.Background()
	var err error
	switch action {
	case "start":
		err = g.sup.Start(ctx, internalID)
	case "kill":
		err = g.sup.Kill(ctx, internalID)
	case "restart":
		err = g.sup.Restart(ctx, internalID)
	default:
		log.Warn().Str("action", action).Msg("unknown power action")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("internal_id", internalID).Str("action", action).Msg("power action failed")
	}
}
