package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
)

// The WebSocket subscription protocol is a minimal graphql-ws-flavored
// envelope: connection_init/connection_ack once per connection, then one
// subscribe/next*/complete (or error) exchange per operation id. Unlike
// graphql-ws proper, subscribe.payload names a catalog entry directly
// rather than carrying a GraphQL subscription document: the catalog's
// backfill-then-live paging and per-row progress semantics don't map onto
// graphql-go's subscription execution, so this protocol is purpose-built
// instead of borrowed wholesale.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgComplete       = "complete"
	msgError          = "error"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscribePayload names one catalog entry and its resume point. Offset is
// a block height for blocks, a row id for everything else keyed by id.
type subscribePayload struct {
	Name                string  `json:"name"`
	Offset              *uint64 `json:"offset,omitempty"`
	Address             string  `json:"address,omitempty"`
	SessionID           string  `json:"sessionId,omitempty"`
	SendProgressUpdates bool    `json:"sendProgressUpdates,omitempty"`
}

const subscriptionPageSize = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected subscriber. Each subscribe operation gets its
// own goroutine and cancel func, independent of the others on the same
// connection: cancelling one operation never disturbs its siblings.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	srv  *Server

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
		srv:  s,
		subs: make(map[string]context.CancelFunc),
	}

	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.mu.Lock()
		for _, cancel := range c.subs {
			cancel()
		}
		c.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(8192)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.srv.log.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case msgConnectionInit:
			c.sendMessage(wsMessage{Type: msgConnectionAck})
		case msgSubscribe:
			c.startSubscription(msg.ID, msg.Payload)
		case msgComplete:
			c.mu.Lock()
			if cancel, ok := c.subs[msg.ID]; ok {
				cancel()
				delete(c.subs, msg.ID)
			}
			c.mu.Unlock()
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) sendMessage(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.srv.log.Warn("subscriber send buffer full, dropping message", "id", msg.ID)
	}
}

func (c *wsClient) sendError(id, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	c.sendMessage(wsMessage{ID: id, Type: msgError, Payload: payload})
}

func (c *wsClient) startSubscription(id string, rawPayload json.RawMessage) {
	var p subscribePayload
	if err := json.Unmarshal(rawPayload, &p); err != nil {
		c.sendError(id, "malformed subscribe payload")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if _, exists := c.subs[id]; exists {
		c.mu.Unlock()
		cancel()
		c.sendError(id, "operation id already in use")
		return
	}
	c.subs[id] = cancel
	c.mu.Unlock()

	go c.runSubscription(ctx, id, p)
}

// runSubscription drives one catalog entry's backfill-then-live scan.
// Every tick (either the bus waking it early or the progress-period ticker
// firing as the fallback poll, since a disconnected bus still leaves the
// ticker running) it re-reads the store above its own cursor and never
// trusts the waking event's payload for anything but "something may have
// changed".
func (c *wsClient) runSubscription(ctx context.Context, id string, p subscribePayload) {
	defer func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}()

	scan, wakeTopic, setupErr := c.srv.buildScanner(ctx, p)
	if setupErr != nil {
		c.sendError(id, setupErr.Error())
		return
	}

	var wakeCh <-chan []byte
	if bus := c.srv.bus; bus != nil {
		if ch, err := bus.Subscribe(ctx, wakeTopic); err == nil {
			wakeCh = ch
		} else {
			c.srv.log.Warn("subscribe to bus for subscription fallback to poll-only", "topic", wakeTopic, "error", err)
		}
	}

	ticker := time.NewTicker(c.srv.cfg.ProgressPeriod)
	defer ticker.Stop()

	for {
		items, progressEligible, err := scan(ctx)
		if err != nil {
			c.sendError(id, "internal error")
			return
		}
		if len(items) > 0 {
			payload, _ := json.Marshal(map[string]any{"items": items})
			c.sendMessage(wsMessage{ID: id, Type: msgNext, Payload: payload})
		} else if progressEligible {
			payload, _ := json.Marshal(map[string]any{"progress": true})
			c.sendMessage(wsMessage{ID: id, Type: msgNext, Payload: payload})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-wakeCh:
			if !ok {
				wakeCh = nil
			}
		}
	}
}

// scanFunc fetches the next page above its own cursor, returning the
// serialized rows (possibly empty) and whether an empty result still
// warrants a progress envelope. Every catalog entry except
// shieldedTransactions emits progress unconditionally on an empty page, so
// the connection never silently stalls; shieldedTransactions instead gates
// this on the subscribe payload's own sendProgressUpdates flag, the one
// catalog entry that documents it as a parameter.
type scanFunc func(ctx context.Context) (items []any, progressEligible bool, err error)

// buildScanner resolves one subscribePayload into a paging scanFunc closed
// over its own mutable cursor, plus the bus topic that should wake it
// early between progress-period ticks.
func (s *Server) buildScanner(ctx context.Context, p subscribePayload) (scanFunc, pubsub.Topic, error) {
	switch p.Name {
	case "blocks":
		cursor := uint64(0)
		if p.Offset != nil {
			cursor = *p.Offset
		}
		return func(ctx context.Context) ([]any, bool, error) {
			blocks, err := s.store.BlocksAfter(ctx, cursor, subscriptionPageSize)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, len(blocks))
			for i, b := range blocks {
				out[i] = blockDTO(b)
				cursor = b.Height
			}
			return out, true, nil
		}, pubsub.TopicBlockIndexed, nil

	case "contractActions":
		addr, err := hexDecode(p.Address)
		if err != nil {
			return nil, "", err
		}
		cursor := uint64(0)
		if p.Offset != nil {
			cursor = *p.Offset
		}
		return func(ctx context.Context) ([]any, bool, error) {
			actions, err := s.store.ContractActionsAfter(ctx, addr, cursor, subscriptionPageSize)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, len(actions))
			for i, a := range actions {
				out[i] = contractActionDTO(a)
				cursor = a.ID
			}
			return out, true, nil
		}, pubsub.TopicBlockIndexed, nil

	case "unshieldedTransactions":
		addr, err := hexDecode(p.Address)
		if err != nil {
			return nil, "", err
		}
		cursor := uint64(0)
		if p.Offset != nil {
			cursor = *p.Offset
		}
		return func(ctx context.Context) ([]any, bool, error) {
			utxos, err := s.store.UnshieldedUtxosByOwnerAfter(ctx, addr, cursor, subscriptionPageSize)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, len(utxos))
			for i, u := range utxos {
				out[i] = unshieldedUtxoDTO(u)
				cursor = u.ID
			}
			return out, true, nil
		}, pubsub.TopicBlockIndexed, nil

	case "dustLedgerEvents", "zswapLedgerEvents":
		grouping := domain.GroupingDust
		if p.Name == "zswapLedgerEvents" {
			grouping = domain.GroupingZswap
		}
		cursor := uint64(0)
		if p.Offset != nil {
			cursor = *p.Offset
		}
		return func(ctx context.Context) ([]any, bool, error) {
			events, err := s.store.LedgerEventsAfter(ctx, grouping, cursor, subscriptionPageSize)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, len(events))
			for i, e := range events {
				out[i] = ledgerEventDTO(e)
				cursor = e.ID
			}
			return out, true, nil
		}, pubsub.TopicBlockIndexed, nil

	case "shieldedTransactions":
		sessionID, err := hexDecode(p.SessionID)
		if err != nil {
			return nil, "", err
		}
		w, err := s.store.WalletBySessionID(ctx, sessionID)
		if err != nil {
			return nil, "", err
		}
		if w == nil || !w.Active {
			return nil, "", errUnknownSession
		}
		walletID := w.ID
		cursor := uint64(0)
		if p.Offset != nil {
			cursor = *p.Offset
		}
		return func(ctx context.Context) ([]any, bool, error) {
			ids, err := s.store.RelevantTransactionsAfter(ctx, walletID, cursor, subscriptionPageSize)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, 0, len(ids))
			for _, txID := range ids {
				t, err := s.store.TransactionByID(ctx, txID)
				if err != nil {
					return nil, false, err
				}
				if t == nil {
					continue
				}
				out = append(out, transactionDTO(t))
				cursor = txID
			}
			return out, p.SendProgressUpdates, nil
		}, pubsub.TopicWalletIndexed, nil

	default:
		return nil, "", errUnknownSubscription
	}
}
