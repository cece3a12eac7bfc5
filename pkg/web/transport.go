package web

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/param-go/param/pkg/querysync"
	"github.com/param-go/param/pkg/widget"
)

// wsLocation adapts the panel WebSocket to the querysync Location contract.
// Adapter writes are mirrored to the connected page as "url" messages;
// inbound "url" messages enter through apply, which notifies the adapter.
type wsLocation struct {
	inner  *querysync.ValuesLocation
	send   func(Message) error
	logger *slog.Logger
}

func (l *wsLocation) Read(key string) (string, bool) {
	return l.inner.Read(key)
}

func (l *wsLocation) Write(key, value string) {
	l.inner.Write(key, value)
	if err := l.send(Message{Type: "url", Key: key, Val: value}); err != nil {
		l.logger.Warn("url write not delivered", "key", key, "error", err)
	}
}

func (l *wsLocation) Subscribe(fn func(key, value string)) func() {
	return l.inner.Subscribe(fn)
}

func (l *wsLocation) apply(key, value string) {
	l.inner.Apply(key, value)
}

// transport is the server side of one panel connection. It implements
// widget.Factory, so bindings render as controls on the connected page, and
// owns a wsLocation, so query-string sync flows over the same socket.
type transport struct {
	sessionID string
	send      func(Message) error
	loc       *wsLocation
	tracing   *TracingConfig
	logger    *slog.Logger

	mu       sync.Mutex
	controls map[int]*remoteControl
	nextID   int
}

func newTransport(sessionID string, initial url.Values, send func(Message) error, tracing *TracingConfig, logger *slog.Logger) *transport {
	t := &transport{
		sessionID: sessionID,
		send:      send,
		tracing:   tracing,
		logger:    logger,
		controls:  make(map[int]*remoteControl),
	}
	t.loc = &wsLocation{
		inner:  querysync.NewValuesLocation(initial),
		send:   send,
		logger: logger,
	}
	return t
}

// Location returns the connection's query-string location.
func (t *transport) Location() querysync.Location {
	return t.loc
}

// Create implements widget.Factory. The control is announced to the page as
// a "ctrl" message; its handle relays value traffic both ways.
func (t *transport) Create(spec widget.ControlSpec) (widget.Control, error) {
	raw, err := encodeWireValue(spec.Kind, spec.Value)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.nextID++
	c := &remoteControl{
		t:       t,
		id:      t.nextID,
		kind:    spec.Kind,
		name:    spec.Name,
		choices: spec.Choices,
		value:   spec.Value,
	}
	t.controls[c.id] = c
	t.mu.Unlock()

	msg := Message{
		Type:    "ctrl",
		ID:      c.id,
		Kind:    spec.Kind.String(),
		Name:    spec.Name,
		Doc:     spec.Doc,
		Lo:      spec.Lo,
		Hi:      spec.Hi,
		Step:    spec.Step,
		Choices: spec.Choices,
		Value:   raw,
	}
	if err := t.send(msg); err != nil {
		t.mu.Lock()
		delete(t.controls, c.id)
		t.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// handle processes one inbound client message.
func (t *transport) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case "set":
		t.handleSet(ctx, msg)

	case "url":
		finish := t.tracing.span(ctx, "url", t.sessionID, msg.Key)
		t.loc.apply(msg.Key, msg.Val)
		finish(nil)

	default:
		t.logger.Warn("unknown message type", "type", msg.Type, "session_id", t.sessionID)
	}
}

func (t *transport) handleSet(ctx context.Context, msg Message) {
	t.mu.Lock()
	c := t.controls[msg.ID]
	t.mu.Unlock()

	if c == nil {
		t.logger.Warn("set for unknown control", "id", msg.ID, "session_id", t.sessionID)
		t.sendError("unknown control")
		return
	}

	finish := t.tracing.span(ctx, "set", t.sessionID, c.name)
	v, err := decodeWireValue(c.kind, c.choices, msg.Value)
	if err != nil {
		t.logger.Warn("undecodable control value",
			"control", c.name, "session_id", t.sessionID, "error", err)
		t.sendError(err.Error())
		finish(err)
		return
	}
	c.deliver(v)
	finish(nil)
}

func (t *transport) sendError(text string) {
	if err := t.send(Message{Type: "err", Error: text}); err != nil {
		t.logger.Debug("error message not delivered", "error", err)
	}
}

// remoteControl is a control living on the connected page. The server holds
// its last known value and relays changes in both directions.
type remoteControl struct {
	t       *transport
	id      int
	kind    widget.ControlKind
	name    string
	choices []any

	mu       sync.Mutex
	value    any
	onChange func(v any)
}

// GetValue implements widget.Control.
func (c *remoteControl) GetValue() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// SetValue implements widget.Control. The new value is pushed to the page
// as a "set" message.
func (c *remoteControl) SetValue(v any) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()

	raw, err := encodeWireValue(c.kind, v)
	if err != nil {
		c.t.logger.Warn("unencodable control value", "control", c.name, "error", err)
		return
	}
	if err := c.t.send(Message{Type: "set", ID: c.id, Value: raw}); err != nil {
		c.t.logger.Warn("set not delivered", "control", c.name, "error", err)
	}
}

// OnChange implements widget.Control.
func (c *remoteControl) OnChange(fn func(v any)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// deliver records a page-originated value and invokes the change callback.
func (c *remoteControl) deliver(v any) {
	c.mu.Lock()
	c.value = v
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}
