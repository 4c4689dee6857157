package clearnode

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	xerrors "VelocityVault/internal/errors"
)

const testWalletKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeTransport struct {
	mu        sync.Mutex
	events    chan TransportEvent
	sent      [][]byte
	dialErr   error
	sendErr   error
	closed    bool
	closeOnce sync.Once
	onSend    func(req DecodedRequest)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan TransportEvent, 64)}
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	if f.dialErr != nil {
		return f.dialErr
	}
	f.events <- TransportEvent{Kind: TransportOpen}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		req, err := DecodeRequest(frame)
		if err == nil {
			hook(req)
		}
	}
	return nil
}

func (f *fakeTransport) Events() <-chan TransportEvent { return f.events }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.events <- TransportEvent{Kind: TransportClose}
		close(f.events)
	})
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) deliver(frame string) {
	f.events <- TransportEvent{Kind: TransportMessage, Data: []byte(frame)}
}

func (f *fakeTransport) requests(t *testing.T) []DecodedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DecodedRequest, 0, len(f.sent))
	for _, raw := range f.sent {
		req, err := DecodeRequest(raw)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		out = append(out, req)
	}
	return out
}

func (f *fakeTransport) last(t *testing.T) DecodedRequest {
	t.Helper()
	reqs := f.requests(t)
	if len(reqs) == 0 {
		t.Fatalf("no frame sent")
	}
	return reqs[len(reqs)-1]
}

func testWallet(t *testing.T) *KeySigner {
	t.Helper()
	wallet, err := NewKeySigner(testWalletKey)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	return wallet
}

func testConfig() Config {
	return Config{URL: "wss://clearnode.test/ws", RequestTimeout: 2 * time.Second, ChainID: 11155111, TokenAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"}
}

func newTestSession(t *testing.T, cfg Config, opts ...Option) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	opts = append([]Option{WithTransport(func(string) Transport { return ft })}, opts...)
	return NewSession(cfg, opts...), ft
}

// authenticate drives the session to Authenticated with session key 0xabc.
func authenticate(t *testing.T, s *Session, ft *fakeTransport) {
	t.Helper()
	call, err := s.Connect(context.Background(), testWallet(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.deliver(fmt.Sprintf(`{"res":[%d,"auth_verify",{"address":"0x1","session_key":"0xabc","success":true},0]}`, call.ID))
	waitCall(t, call)
}

// openChannel authenticates and applies a channels listing with the given balance.
func openChannel(t *testing.T, s *Session, ft *fakeTransport, amount string) {
	t.Helper()
	authenticate(t, s, ft)
	ft.deliver(fmt.Sprintf(`{"res":[0,"channels",{"channels":[{"channel_id":"0xCH1","status":"open","amount":"%s"}]},0]}`, amount))
	waitFor(t, func() bool { return s.Snapshot().ChannelID == "0xCH1" })
}

func waitCall(t *testing.T, call *Call) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := call.Wait(ctx)
	if err != nil {
		t.Fatalf("call %d (%s) failed: %v", call.ID, call.Method, err)
	}
	return ev
}

func waitCallErr(t *testing.T, call *Call) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := call.Wait(ctx)
	if err == nil {
		t.Fatalf("call %d (%s) should fail", call.ID, call.Method)
	}
	if ctx.Err() != nil {
		t.Fatalf("call %d (%s) never settled", call.ID, call.Method)
	}
	return err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func requireCode(t *testing.T, err error, code xerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := xerrors.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}
