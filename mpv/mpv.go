// Package mpv implements a client for mpv's JSON IPC protocol over a unix socket.
//
// A Conn owns one reconnecting socket connection and multiplexes three kinds of
// traffic over it:
//   - request/response commands correlated by request_id (Call),
//   - unsolicited events fanned out to registered handlers (OnEvent),
//   - property-change notifications translated into per-property observers
//     (Observe), backed by a single built-in handler for the player's
//     "property-change" event.
//
// Outbound messages are appended to a send buffer and flushed by the read loop
// before each receive attempt, so writes queued before a Call returns are on
// the wire no later than the next socket poll cycle.
package mpv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/vodchat/telemetry"
)

// callTimeout bounds how long Call waits for a matching response. Variable so
// tests can shorten the timeout path.
var callTimeout = 5 * time.Second

// recvTimeout is the socket poll interval; it also bounds how long a stop
// request can go unnoticed by the read loop.
const recvTimeout = time.Second

// ErrTimeout is returned by Call when no response arrives within the timeout.
// The connection is left open; a late response for the abandoned id is dropped.
var ErrTimeout = errors.New("mpv: no response within timeout")

// CommandError is returned by Call when the player answers with a non-"success"
// status. It carries the player-reported error string.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mpv: command failed: %s", e.Reason)
}

// EventHandler receives the full decoded event message.
type EventHandler func(event map[string]any)

// PropertyHandler receives the new value of an observed property.
type PropertyHandler func(value any)

type response struct {
	errStatus string
	data      any
}

type eventHandler struct {
	fn EventHandler
}

type propObserver struct {
	fn PropertyHandler
}

// Conn is a connection to an mpv instance. Create with New, start with
// Connect, and tear down with Stop followed by Wait.
type Conn struct {
	socketPath string
	reconnect  bool
	log        *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	sendMu  sync.Mutex
	sendBuf []byte

	reqMu     sync.Mutex
	nextReqID int64
	waiters   map[int64]chan response

	handlerMu sync.Mutex
	handlers  map[string][]*eventHandler

	obsMu          sync.Mutex
	nextObserverID int64
	observers      map[string][]*propObserver
	observerIDs    map[string]int64
}

// New creates a Conn for the given socket path. If reconnect is true the read
// loop re-dials after a connection loss until Stop is called.
func New(socketPath string, reconnect bool) *Conn {
	c := &Conn{
		socketPath:  socketPath,
		reconnect:   reconnect,
		log:         slog.Default().With(slog.String("component", "mpv"), slog.String("socket", socketPath)),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		waiters:     make(map[int64]chan response),
		handlers:    make(map[string][]*eventHandler),
		observers:   make(map[string][]*propObserver),
		observerIDs: make(map[string]int64),
	}
	// Observer fan-out rides on the generic property-change event.
	c.handlers["property-change"] = append(c.handlers["property-change"], &eventHandler{fn: c.dispatchPropertyChange})
	return c
}

// Connect starts the read/dispatch loop on its own goroutine.
func (c *Conn) Connect() {
	go c.run()
}

// Stop requests shutdown. The read loop notices within one poll interval.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until the read loop has exited.
func (c *Conn) Wait() {
	<-c.done
}

func (c *Conn) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Conn) run() {
	defer close(c.done)
	if err := c.connectAndProcess(); err != nil {
		c.log.Error("connection lost", slog.Any("err", err))
	}
	if !c.reconnect {
		return
	}
	for !c.stopped() {
		inc(telemetry.IPCReconnects)
		if err := c.connectAndProcess(); err != nil {
			c.log.Error("connection lost", slog.Any("err", err))
		}
	}
}

func (c *Conn) connectAndProcess() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.Warn("failed to close socket", slog.Any("err", err))
		}
	}()
	c.log.Info("connected")

	var buf []byte
	chunk := make([]byte, 1024)
	for !c.stopped() {
		if err := c.flushSend(conn); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(chunk)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		buf = append(buf, chunk[:n]...)
		for {
			idx := bytes.IndexByte(buf, '\n')
			if idx < 0 {
				break
			}
			line := buf[:idx]
			buf = buf[idx+1:]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := c.dispatch(line); err != nil {
				// Malformed JSON means we lost protocol framing. Drop the
				// connection and start over rather than guessing.
				return fmt.Errorf("protocol desync: %w", err)
			}
		}
	}
	return nil
}

func (c *Conn) flushSend(conn net.Conn) error {
	c.sendMu.Lock()
	pending := c.sendBuf
	c.sendBuf = nil
	c.sendMu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	if _, err := conn.Write(pending); err != nil {
		return err
	}
	return nil
}

func (c *Conn) enqueue(payload []byte) {
	c.sendMu.Lock()
	c.sendBuf = append(c.sendBuf, payload...)
	c.sendBuf = append(c.sendBuf, '\n')
	c.sendMu.Unlock()
}

// dispatch routes one decoded line: response, event, or unknown.
func (c *Conn) dispatch(line []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		return err
	}
	if rawID, ok := msg["request_id"]; ok {
		id, ok := asInt64(rawID)
		if !ok {
			return fmt.Errorf("non-numeric request_id %v", rawID)
		}
		errStatus, _ := msg["error"].(string)
		c.reqMu.Lock()
		ch, ok := c.waiters[id]
		c.reqMu.Unlock()
		if !ok {
			c.log.Warn("response for unknown request", slog.Int64("request_id", id))
			return nil
		}
		select {
		case ch <- response{errStatus: errStatus, data: msg["data"]}:
		default:
			// Waiter already satisfied (duplicate response); drop.
		}
		return nil
	}
	if event, ok := msg["event"].(string); ok {
		inc(telemetry.IPCEvents)
		c.handlerMu.Lock()
		hs := append([]*eventHandler(nil), c.handlers[event]...)
		c.handlerMu.Unlock()
		for _, h := range hs {
			h.fn(msg)
		}
		return nil
	}
	c.log.Warn("unknown message shape", slog.Any("message", msg))
	return nil
}

// Call sends a command and blocks until a matching response arrives or the
// timeout elapses. On success it returns the response data unchanged.
func (c *Conn) Call(command string, args ...any) (any, error) {
	c.reqMu.Lock()
	c.nextReqID++
	id := c.nextReqID
	ch := make(chan response, 1)
	c.waiters[id] = ch
	c.reqMu.Unlock()
	defer func() {
		c.reqMu.Lock()
		delete(c.waiters, id)
		c.reqMu.Unlock()
	}()

	payload, err := json.Marshal(struct {
		Command   []any `json:"command"`
		RequestID int64 `json:"request_id"`
	}{
		Command:   append([]any{command}, args...),
		RequestID: id,
	})
	if err != nil {
		return nil, err
	}
	c.enqueue(payload)
	inc(telemetry.IPCCommands)

	select {
	case resp := <-ch:
		if resp.errStatus != "success" {
			inc(telemetry.IPCCommandErrors)
			return nil, &CommandError{Reason: resp.errStatus}
		}
		return resp.data, nil
	case <-time.After(callTimeout):
		inc(telemetry.IPCCommandErrors)
		return nil, ErrTimeout
	}
}

// OnEvent registers a handler for every event message with the given name.
// Handlers run synchronously on the read loop, in registration order, and must
// not block. The returned function removes exactly this handler; calling it
// more than once is a no-op.
func (c *Conn) OnEvent(event string, fn EventHandler) func() {
	h := &eventHandler{fn: fn}
	c.handlerMu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.handlerMu.Unlock()
	return func() { c.offEvent(event, h) }
}

func (c *Conn) offEvent(event string, h *eventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	hs := c.handlers[event]
	for i, cur := range hs {
		if cur == h {
			c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Observe registers interest in changes to a property. The first observer of a
// property issues observe_property to the player; the last one removed issues
// unobserve_property. If requestInitial is true the current value is fetched
// and delivered before Observe returns. The returned function removes exactly
// this observer and is safe to call more than once.
func (c *Conn) Observe(prop string, fn PropertyHandler, requestInitial bool) (func(), error) {
	o := &propObserver{fn: fn}
	c.obsMu.Lock()
	c.observers[prop] = append(c.observers[prop], o)
	first := false
	var obsID int64
	if _, ok := c.observerIDs[prop]; !ok {
		c.nextObserverID++
		obsID = c.nextObserverID
		c.observerIDs[prop] = obsID
		first = true
	}
	c.obsMu.Unlock()

	if first {
		if _, err := c.Call("observe_property", obsID, prop); err != nil {
			c.dropObserver(prop, o, false)
			return nil, err
		}
	}
	if requestInitial {
		value, err := c.Call("get_property", prop)
		if err != nil {
			c.dropObserver(prop, o, true)
			return nil, err
		}
		fn(value)
	}
	return func() { c.dropObserver(prop, o, true) }, nil
}

// dropObserver removes one observer registration. When the last observer of a
// property goes away and unsubscribe is set, the player-side subscription is
// torn down as well.
func (c *Conn) dropObserver(prop string, o *propObserver, unsubscribe bool) {
	c.obsMu.Lock()
	obs := c.observers[prop]
	found := false
	for i, cur := range obs {
		if cur == o {
			c.observers[prop] = append(obs[:i:i], obs[i+1:]...)
			found = true
			break
		}
	}
	var obsID int64
	last := false
	if found && len(c.observers[prop]) == 0 {
		obsID = c.observerIDs[prop]
		delete(c.observerIDs, prop)
		last = true
	}
	c.obsMu.Unlock()

	if last && unsubscribe {
		if _, err := c.Call("unobserve_property", obsID); err != nil {
			c.log.Warn("unobserve_property failed", slog.String("property", prop), slog.Any("err", err))
		}
	}
}

// dispatchPropertyChange fans one property-change event out to the observers
// of that property.
func (c *Conn) dispatchPropertyChange(msg map[string]any) {
	name, _ := msg["name"].(string)
	if name == "" {
		return
	}
	c.obsMu.Lock()
	obs := append([]*propObserver(nil), c.observers[name]...)
	c.obsMu.Unlock()
	for _, o := range obs {
		o.fn(msg["data"])
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
