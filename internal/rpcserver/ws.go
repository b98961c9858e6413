package rpcserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solana-pda-mint/internal/domain"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/pda"
)

// WebSocket connection limits.
const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsMaxMessage    = 4 << 10
	wsSendQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans executed transactions out to logsSubscribe subscribers.
type hub struct {
	logger *log.Logger

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	nextID int64
	closed bool
}

func newHub(logger *log.Logger) *hub {
	return &hub{
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

// logsFilter selects transactions for one subscription.
type logsFilter struct {
	mentions []string // empty matches every transaction
}

func (f logsFilter) match(rec *domain.TransactionRecord) bool {
	if len(f.mentions) == 0 {
		return true
	}
	for _, m := range f.mentions {
		if rec.Mentions(m) {
			return true
		}
	}
	return false
}

// wsConn is one client connection. Writes go through send so a single
// goroutine owns the socket writer.
type wsConn struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[int64]logsFilter

	closeOnce sync.Once
	done      chan struct{}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws upgrade: %v", err)
		return
	}

	c := &wsConn{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendQueueSize),
		subs: make(map[int64]logsFilter),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	c.readLoop()
}

func (h *hub) clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *hub) subscriptionID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	return id
}

// broadcast is registered as a runtime listener. It never blocks: a client
// whose queue is full is disconnected.
func (h *hub) broadcast(rec *domain.TransactionRecord) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.notify(rec)
	}
}

func (h *hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

type logsNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type notificationParams struct {
	Subscription int64        `json:"subscription"`
	Result       contextValue `json:"result"`
}

type logsValue struct {
	Signature string   `json:"signature"`
	Err       *string  `json:"err"`
	Logs      []string `json:"logs"`
}

func (c *wsConn) notify(rec *domain.TransactionRecord) {
	c.mu.Lock()
	var ids []int64
	for id, f := range c.subs {
		if f.match(rec) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		msg, err := json.Marshal(logsNotification{
			JSONRPC: "2.0",
			Method:  "logsNotification",
			Params: notificationParams{
				Subscription: id,
				Result: contextValue{
					Context: rpcContext{Slot: rec.Slot},
					Value: logsValue{
						Signature: rec.Signature,
						Err:       rec.Err,
						Logs:      nonNil(rec.LogMessages),
					},
				},
			},
		})
		if err != nil {
			c.hub.logger.Printf("ws marshal notification: %v", err)
			return
		}
		if !c.enqueue(msg) {
			c.hub.logger.Printf("ws client %s too slow, disconnecting", c.conn.RemoteAddr())
			c.close()
			return
		}
	}
}

// enqueue reports false when the send queue is full.
func (c *wsConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) reply(id json.RawMessage, result interface{}, rpcErr *rpcError) {
	var v interface{} = rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
	if rpcErr != nil {
		v = errorResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	msg, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.Printf("ws marshal reply: %v", err)
		return
	}
	if !c.enqueue(msg) {
		c.close()
	}
}

func (c *wsConn) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		c.handle(message)
	}
}

func (c *wsConn) handle(message []byte) {
	var req rpcRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.reply(nil, nil, &rpcError{Code: CodeParseError, Message: "Parse error"})
		return
	}

	start := time.Now()
	var (
		result interface{}
		rpcErr *rpcError
		method = req.Method
	)
	switch req.Method {
	case "logsSubscribe":
		result, rpcErr = c.subscribe(req.Params)
	case "logsUnsubscribe":
		result, rpcErr = c.unsubscribe(req.Params)
	default:
		method = "unknown"
		rpcErr = &rpcError{Code: CodeMethodNotFound, Message: "Method not found"}
	}

	status := "success"
	if rpcErr != nil {
		status = "error"
	}
	observability.RecordRPCRequest(method, status, time.Since(start).Seconds())
	c.reply(req.ID, result, rpcErr)
}

// subscribe accepts "all", {"all": …} or {"mentions": [address]}.
func (c *wsConn) subscribe(params json.RawMessage) (interface{}, *rpcError) {
	var raw json.RawMessage
	if err := decodeParams(params, 1, &raw); err != nil {
		return nil, toRPCError(err)
	}

	var filter logsFilter
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if name != "all" && name != "allWithVotes" {
			return nil, invalidParams("unknown filter %q", name)
		}
	} else {
		var obj struct {
			Mentions []string `json:"mentions"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, invalidParams("filter: %v", err)
		}
		for _, m := range obj.Mentions {
			if _, err := pda.ParseAddress(m); err != nil {
				return nil, invalidParams("mentions: %v", err)
			}
		}
		filter.mentions = obj.Mentions
	}

	id := c.hub.subscriptionID()
	c.mu.Lock()
	c.subs[id] = filter
	c.mu.Unlock()
	observability.AddWSSubscribers(1)
	return id, nil
}

func (c *wsConn) unsubscribe(params json.RawMessage) (interface{}, *rpcError) {
	var id int64
	if err := decodeParams(params, 1, &id); err != nil {
		return nil, toRPCError(err)
	}

	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		return nil, invalidParams("unknown subscription %d", id)
	}
	observability.AddWSSubscribers(-1)
	return true, nil
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

// close drops every subscription and stops both loops.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)

		c.mu.Lock()
		n := len(c.subs)
		c.subs = make(map[int64]logsFilter)
		c.mu.Unlock()
		if n > 0 {
			observability.AddWSSubscribers(-n)
		}
	})
}
