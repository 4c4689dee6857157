package clearnode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	xerrors "VelocityVault/internal/errors"
)

// TransportEventKind 区分传输层事件。
type TransportEventKind int

const (
	TransportOpen TransportEventKind = iota
	TransportMessage
	TransportError
	TransportClose
)

// TransportEvent is delivered on Transport.Events.
type TransportEvent struct {
	Kind TransportEventKind
	Data []byte
	Err  error
}

// Transport 持有到清算节点的单条持久连接。
// Events 在连接结束时恰好投递一次 TransportClose 然后关闭，调用方需持续读取直到通道关闭。
type Transport interface {
	Dial(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Events() <-chan TransportEvent
	Close() error
}

// TransportFactory 为每次连接创建新的传输实例。
type TransportFactory func(url string) Transport

const (
	defaultPingInterval = 25 * time.Second
	defaultWriteWait    = 10 * time.Second
	sendBuffer          = 32
	eventBuffer         = 64
)

// WSTransport implements Transport over gorilla/websocket.
type WSTransport struct {
	url          string
	dialer       websocket.Dialer
	pingInterval time.Duration
	writeWait    time.Duration

	events chan TransportEvent
	sendCh chan []byte
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	conn      *websocket.Conn
	wg        sync.WaitGroup
}

// NewWSTransport creates an undialed websocket transport.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:          url,
		dialer:       websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingInterval: defaultPingInterval,
		writeWait:    defaultWriteWait,
		events:       make(chan TransportEvent, eventBuffer),
		sendCh:       make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
	}
}

// WebsocketFactory 是默认的 TransportFactory。
func WebsocketFactory(url string) Transport {
	return NewWSTransport(url)
}

// Dial opens the socket. A transport can be dialed once.
func (t *WSTransport) Dial(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return xerrors.New(xerrors.CodePrecondition, "transport already dialed")
	}
	select {
	case <-t.done:
		return xerrors.New(xerrors.CodeConnection, "transport closed")
	default:
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConnection, err, "dial clearnode")
	}
	t.conn = conn
	t.events <- TransportEvent{Kind: TransportOpen}

	t.wg.Add(2)
	go t.readLoop(conn)
	go t.writeLoop(conn)
	go func() {
		t.wg.Wait()
		t.events <- TransportEvent{Kind: TransportClose}
		close(t.events)
	}()
	return nil
}

// Send queues a frame for the writer goroutine.
func (t *WSTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	dialed := t.conn != nil
	t.mu.Unlock()
	if !dialed {
		return xerrors.New(xerrors.CodeConnection, "transport not connected")
	}
	select {
	case <-t.done:
		return xerrors.New(xerrors.CodeConnection, "transport closed")
	default:
	}
	select {
	case t.sendCh <- frame:
		return nil
	case <-t.done:
		return xerrors.New(xerrors.CodeConnection, "transport closed")
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeConnection, ctx.Err(), "send cancelled")
	}
}

// Events returns the event stream.
func (t *WSTransport) Events() <-chan TransportEvent {
	return t.events
}

// Close 发送关闭帧并停止读写协程，可重复调用。
func (t *WSTransport) Close() error {
	t.shutdown()
	return nil
}

func (t *WSTransport) shutdown() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *WSTransport) closing() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer t.shutdown()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !t.closing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.events <- TransportEvent{Kind: TransportError, Err: err}
			}
			return
		}
		t.events <- TransportEvent{Kind: TransportMessage, Data: data}
	}
}

func (t *WSTransport) writeLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer conn.Close()
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
			return
		case frame := <-t.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.fail(err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait)); err != nil {
				t.fail(err)
				return
			}
		}
	}
}

func (t *WSTransport) fail(err error) {
	if t.closing() || errors.Is(err, websocket.ErrCloseSent) {
		t.shutdown()
		return
	}
	t.events <- TransportEvent{Kind: TransportError, Err: err}
	t.shutdown()
}
