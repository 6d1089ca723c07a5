// This file implements the gateway listener.
//
// The middleman workflow only consumes one inbound event: a reaction added
// to a tracked acceptance-prompt message. The gateway connects over a
// websocket, identifies with reaction intents, keeps the heartbeat, and
// forwards MESSAGE_REACTION_ADD dispatches to the registered handler.
// Everything else is acknowledged and dropped.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultGatewayURL is the production Discord gateway endpoint.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opReconnect    = 7
	opInvalidSess  = 9
	opHello        = 10
	opHeartbeatAck = 11
)

// Gateway intents: guilds plus guild message reactions.
const (
	intentGuilds                = 1 << 0
	intentGuildMessageReactions = 1 << 10
)

// reconnectDelay is the fixed wait between gateway reconnect attempts.
const reconnectDelay = 5 * time.Second

// ReactionHandler receives every MESSAGE_REACTION_ADD dispatch.
type ReactionHandler func(ctx context.Context, ev ReactionEvent)

// Gateway maintains a Discord gateway connection and dispatches reaction
// events. It is owned by the bot wiring; one instance per process.
type Gateway struct {
	token   string
	url     string
	handler ReactionHandler
	log     zerolog.Logger
}

// NewGateway constructs a gateway listener. handler must be non-nil.
func NewGateway(token string, handler ReactionHandler, log zerolog.Logger) *Gateway {
	return &Gateway{
		token:   token,
		url:     DefaultGatewayURL,
		handler: handler,
		log:     log,
	}
}

// SetURL overrides the gateway endpoint (tests).
func (g *Gateway) SetURL(u string) { g.url = u }

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// gatewaySession wraps one websocket connection. The read loop and the
// heartbeat goroutine share it: writes are serialized because the websocket
// allows only one concurrent writer, and the sequence number is atomic.
type gatewaySession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	seq     atomic.Int64
}

func (s *gatewaySession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// heartbeat sends a heartbeat frame carrying the last seen sequence number.
func (s *gatewaySession) heartbeat() error {
	return s.writeJSON(map[string]any{"op": opHeartbeat, "d": s.seq.Load()})
}

// Run connects and processes events until ctx is cancelled, reconnecting
// after transport failures with a fixed delay.
func (g *Gateway) Run(ctx context.Context) error {
	if g.token == "" {
		return ErrNotConfigured
	}
	for {
		err := g.connectAndListen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("gateway connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// connectAndListen runs a single gateway session: hello, identify,
// heartbeat, dispatch loop.
func (g *Gateway) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// First frame must be HELLO with the heartbeat interval.
	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return err
	}
	if hello.Op != opHello {
		return errors.New("discord: gateway did not send hello")
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return err
	}

	sess := &gatewaySession{conn: conn}
	if err := g.identify(sess); err != nil {
		return err
	}

	// Heartbeats run on their own goroutine for the session's lifetime.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the socket is the only way to unblock the read loop on
	// cancellation.
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	go g.heartbeatLoop(sessionCtx, sess, time.Duration(helloData.HeartbeatInterval)*time.Millisecond)

	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return err
		}
		if payload.S != nil {
			sess.seq.Store(int64(*payload.S))
		}

		switch payload.Op {
		case opDispatch:
			if payload.T == "MESSAGE_REACTION_ADD" {
				var ev ReactionEvent
				if err := json.Unmarshal(payload.D, &ev); err != nil {
					g.log.Warn().Err(err).Msg("gateway: malformed reaction event")
					continue
				}
				g.handler(ctx, ev)
			}
		case opHeartbeat:
			_ = sess.heartbeat()
		case opReconnect, opInvalidSess:
			return errors.New("discord: gateway requested reconnect")
		case opHeartbeatAck:
			// expected, nothing to do
		}
	}
}

// identify sends the IDENTIFY frame with reaction intents.
func (g *Gateway) identify(sess *gatewaySession) error {
	return sess.writeJSON(map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.token,
			"intents": intentGuilds | intentGuildMessageReactions,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "go-market-backend",
				"device":  "go-market-backend",
			},
		},
	})
}

// heartbeatLoop sends heartbeats at the server-assigned interval until the
// session ends.
func (g *Gateway) heartbeatLoop(ctx context.Context, sess *gatewaySession, interval time.Duration) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sess.heartbeat(); err != nil {
				return
			}
		}
	}
}
