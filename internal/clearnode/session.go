package clearnode

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/observability/metrics"
	"VelocityVault/pkg/logger"
)

// ErrNoChannel 表示当前会话没有可用通道。
var ErrNoChannel = xerrors.New(xerrors.CodePrecondition, "no open channel")

// ErrNotAuthenticated 表示会话尚未完成鉴权。
var ErrNotAuthenticated = xerrors.New(xerrors.CodePrecondition, "session is not authenticated")

const (
	defaultRequestTimeout = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultSessionTTL     = time.Hour
	defaultDestination    = "0x0000000000000000000000000000000000000001"
	defaultAsset          = "ytest.usd"
)

// Config 描述一个会话的连接与协议参数。
type Config struct {
	URL                 string
	Application         string
	Scope               string
	Allowances          []Allowance
	SessionTTL          time.Duration
	RequestTimeout      time.Duration
	DialTimeout         time.Duration
	ChainID             int64
	TokenAddress        string
	AllowanceAsset      string
	TransferDestination string
	// RefreshOnAuth 为 true 时鉴权成功后立即拉取通道列表与账本余额。
	RefreshOnAuth bool
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.ClearnodeConfig) Config {
	return Config{
		URL:                 cfg.URL,
		Application:         cfg.Application,
		Scope:               cfg.Scope,
		Allowances:          []Allowance{{Asset: cfg.AllowanceAsset, Amount: cfg.AllowanceAmount}},
		SessionTTL:          cfg.SessionTTL(),
		RequestTimeout:      cfg.RequestTimeout(),
		DialTimeout:         cfg.DialTimeout(),
		ChainID:             cfg.ChainID,
		TokenAddress:        cfg.TokenAddress,
		AllowanceAsset:      cfg.AllowanceAsset,
		TransferDestination: cfg.TransferDestination,
		RefreshOnAuth:       true,
	}
}

// Option customises a Session.
type Option func(*Session)

// WithTransport 替换传输层工厂，测试中注入假连接。
func WithTransport(factory TransportFactory) Option {
	return func(s *Session) {
		if factory != nil {
			s.newTransport = factory
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyGenerator overrides session key generation.
func WithKeyGenerator(gen func() (*KeySigner, error)) Option {
	return func(s *Session) {
		if gen != nil {
			s.newKey = gen
		}
	}
}

// WithObserver 注册入站事件观察者，回调在事件应用到会话之后执行。
func WithObserver(fn func(Event)) Option {
	return func(s *Session) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Call 是一次等待关联响应的请求句柄。
type Call struct {
	ID     uint64
	Method string

	done  chan struct{}
	once  sync.Once
	event Event
	err   error
}

func newCall(id uint64, method string) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{})}
}

func (c *Call) resolve(ev Event, err error) {
	c.once.Do(func() {
		c.event = ev
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call is resolved or rejected.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx ends.
func (c *Call) Wait(ctx context.Context) (Event, error) {
	select {
	case <-c.done:
		return c.event, c.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

type outbound struct {
	id     uint64
	method string
	frame  []byte
	call   *Call
}

type pendingCall struct {
	key    uint64
	method string
	call   *Call
	timer  *time.Timer
	credit bool
}

// Session 是与清算节点的一次会话。所有状态由 mu 保护。
type Session struct {
	cfg          Config
	newTransport TransportFactory
	newKey       func() (*KeySigner, error)
	now          func() time.Time
	log          *slog.Logger

	mu            sync.Mutex
	observers     []func(Event)
	state         State
	transport     Transport
	wallet        Signer
	key           *KeySigner
	sessionKey    string
	channelID     string
	funded        bool
	connected     bool
	authenticated bool
	ledger        *Ledger
	ledgerBalance decimal.Decimal
	lastErr       string
	pending       map[uint64]*pendingCall
	nextID        uint64
	done          chan struct{}
}

// NewSession 创建处于 Disconnected 状态的会话。
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.TransferDestination == "" {
		cfg.TransferDestination = defaultDestination
	}
	if cfg.AllowanceAsset == "" {
		cfg.AllowanceAsset = defaultAsset
	}
	if cfg.Application == "" {
		cfg.Application = "VelocityVault"
	}

	s := &Session{
		cfg:          cfg,
		newTransport: WebsocketFactory,
		newKey:       NewSessionSigner,
		now:          time.Now,
		log:          logger.Named("clearnode"),
		state:        StateDisconnected,
		ledger:       NewLedger(),
		pending:      make(map[uint64]*pendingCall),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe adds an event observer after construction.
func (s *Session) Observe(fn func(Event)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Connect 打开连接、生成会话密钥并发送 auth_request。
// 返回的 Call 在鉴权完成时结算。已鉴权的会话需先 Disconnect。
func (s *Session) Connect(ctx context.Context, wallet Signer) (*Call, error) {
	if wallet == nil {
		return nil, s.fail(xerrors.New(xerrors.CodeConnection, "no wallet account found"))
	}

	s.mu.Lock()
	s.lastErr = ""
	if s.state.authenticated() {
		s.mu.Unlock()
		return nil, s.fail(xerrors.New(xerrors.CodePrecondition, "session already authenticated"))
	}
	previous := s.transport
	s.resetLocked(xerrors.New(xerrors.CodeConnection, "connection replaced"))
	t := s.newTransport(s.cfg.URL)
	s.transport = t
	s.wallet = wallet
	s.state = StateConnecting
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	if err := t.Dial(dialCtx); err != nil {
		s.mu.Lock()
		if s.transport == t {
			s.transport = nil
			s.wallet = nil
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return nil, s.fail(xerrors.Wrap(xerrors.CodeConnection, err, "failed to open clearnode socket"))
	}

	key, err := s.newKey()
	if err != nil {
		_ = t.Close()
		s.abandon(t)
		return nil, s.fail(err)
	}

	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		key.Zero()
		_ = t.Close()
		return nil, s.fail(xerrors.New(xerrors.CodeConnection, "connection superseded"))
	}
	s.key = key
	s.connected = true
	s.state = StateAuthenticating
	done := make(chan struct{})
	s.done = done

	now := s.now()
	id := s.nextRequestIDLocked()
	frame, err := BuildAuthRequest(id, now.UnixMilli(), AuthParams{
		Address:     wallet.Address().Hex(),
		SessionKey:  key.Address().Hex(),
		Application: s.cfg.Application,
		Allowances:  s.cfg.Allowances,
		ExpiresAt:   now.Add(s.cfg.SessionTTL).Unix(),
		Scope:       s.cfg.Scope,
	})
	if err != nil {
		s.mu.Unlock()
		_ = t.Close()
		s.abandon(t)
		return nil, s.fail(err)
	}
	call := s.registerLocked(id, MethodAuthRequest, false)
	s.mu.Unlock()

	go s.loop(t)

	s.log.Info("清算节点连接已建立",
		slog.String("wallet", wallet.Address().Hex()),
		slog.String("session_key", key.Address().Hex()))
	if err := s.send(ctx, t, call.ID, MethodAuthRequest, frame); err != nil {
		return nil, err
	}
	return call, nil
}

// DepositOrFund 没有通道时发送 create_channel，有通道时发送 resize_channel。
// 余额立即按 amount 乐观增加，确认后提交，出错或超时回滚。
func (s *Session) DepositOrFund(ctx context.Context, amount string) (*Call, error) {
	s.mu.Lock()
	s.lastErr = ""
	if !s.authenticated {
		s.mu.Unlock()
		return nil, s.fail(ErrNotAuthenticated)
	}
	value, err := ParseAmount(amount)
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(err)
	}

	t := s.transport
	id := s.nextRequestIDLocked()
	ts := s.now().UnixMilli()
	var (
		frame  []byte
		method string
	)
	if s.channelID == "" {
		method = MethodCreateChannel
		frame, err = BuildCreateChannel(s.key, id, ts, CreateChannelParams{ChainID: s.cfg.ChainID, Token: s.cfg.TokenAddress})
	} else {
		method = MethodResizeChannel
		frame, err = BuildResizeChannel(s.key, id, ts, ResizeChannelParams{
			ChannelID:        s.channelID,
			AllocateAmount:   ToUnits(value),
			FundsDestination: s.wallet.Address().Hex(),
		})
	}
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(err)
	}
	if method == MethodCreateChannel {
		s.state = StateChannelPending
	}
	call := s.registerLocked(id, method, true)
	s.ledger.Credit(id, value)
	s.mu.Unlock()

	if err := s.send(ctx, t, id, method, frame); err != nil {
		return nil, err
	}
	return call, nil
}

// Trade 向配置的目标地址发送一笔 transfer。余额只在确认事件到达时扣减。
func (s *Session) Trade(ctx context.Context, action, asset, amount string) (*Call, error) {
	s.mu.Lock()
	s.lastErr = ""
	if s.channelID == "" {
		s.mu.Unlock()
		return nil, s.fail(ErrNoChannel)
	}
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "buy" && action != "sell" {
		s.mu.Unlock()
		return nil, s.fail(xerrors.Newf(xerrors.CodeValidation, "unsupported trade action %q", action))
	}
	value, err := ParseAmount(amount)
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(err)
	}
	t := s.transport
	if t == nil {
		s.mu.Unlock()
		return nil, s.fail(xerrors.New(xerrors.CodeConnection, "session is not connected"))
	}

	id := s.nextRequestIDLocked()
	frame, err := BuildTransfer(s.key, id, s.now().UnixMilli(), TransferParams{
		Destination: s.cfg.TransferDestination,
		Allocations: []Allowance{{Asset: s.cfg.AllowanceAsset, Amount: ToUnits(value).String()}},
	})
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(err)
	}
	call := s.registerLocked(id, MethodTransfer, false)
	s.mu.Unlock()

	logger.Record(ctx, "session.trade",
		slog.String("action", action),
		slog.String("asset", asset),
		slog.String("amount", value.String()),
		slog.Uint64("request_id", id))
	if err := s.send(ctx, t, id, MethodTransfer, frame); err != nil {
		return nil, err
	}
	return call, nil
}

// Withdraw 只在本地扣减余额，结果为 max(0, balance-amount)。链上结算由金库完成。
func (s *Session) Withdraw(amount string) error {
	value, err := ParseAmount(amount)
	s.mu.Lock()
	s.lastErr = ""
	if err != nil {
		s.mu.Unlock()
		return s.fail(err)
	}
	s.ledger.Debit(value)
	s.mu.Unlock()
	return nil
}

// Refresh 发送 get_channels 与 get_ledger_balances，返回两个请求句柄。
func (s *Session) Refresh(ctx context.Context) ([]*Call, error) {
	s.mu.Lock()
	s.lastErr = ""
	if !s.authenticated || s.wallet == nil || s.key == nil {
		s.mu.Unlock()
		return nil, s.fail(ErrNotAuthenticated)
	}
	t := s.transport
	out, err := s.refreshLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, s.fail(err)
	}

	calls := make([]*Call, 0, len(out))
	for i, o := range out {
		if err := s.send(ctx, t, o.id, o.method, o.frame); err != nil {
			s.mu.Lock()
			for _, rest := range out[i+1:] {
				s.settleLocked(rest.id, Event{}, err)
			}
			s.mu.Unlock()
			return nil, err
		}
		calls = append(calls, o.call)
	}
	return calls, nil
}

// Disconnect 关闭连接，拒绝所有挂起请求，清除会话密钥并回到 Disconnected。
func (s *Session) Disconnect() {
	s.mu.Lock()
	t := s.transport
	s.resetLocked(xerrors.New(xerrors.CodeConnection, "session disconnected"))
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// MarkUnreachable 将会话置为终止状态 Unreachable。
func (s *Session) MarkUnreachable(reason string) {
	s.mu.Lock()
	t := s.transport
	s.resetLocked(xerrors.New(xerrors.CodeUnreachable, reason))
	s.state = StateUnreachable
	s.lastErr = reason
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:           s.state,
		SessionKey:      s.sessionKey,
		ChannelID:       s.channelID,
		Balance:         s.ledger.Balance(),
		LedgerBalance:   s.ledgerBalance,
		Funded:          s.funded,
		IsConnected:     s.connected,
		IsAuthenticated: s.authenticated,
		Loading:         len(s.pending) > 0,
		LastError:       s.lastErr,
		Pending:         len(s.pending),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the last recorded error message.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Balance returns the displayed ledger balance.
func (s *Session) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Balance()
}

// Done 在当前连接结束时关闭。没有连接时返回已关闭的通道。
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = xerrors.MessageOf(err)
	s.mu.Unlock()
	return err
}

func (s *Session) abandon(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == t {
		s.resetLocked(xerrors.New(xerrors.CodeConnection, "connection abandoned"))
	}
}

func (s *Session) nextRequestIDLocked() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Session) registerLocked(id uint64, method string, credit bool) *Call {
	call := newCall(id, method)
	pc := &pendingCall{key: id, method: method, call: call, credit: credit}
	pc.timer = time.AfterFunc(s.cfg.RequestTimeout, func() { s.expire(pc) })
	s.pending[id] = pc
	metrics.PendingRequests.Inc()
	return call
}

func (s *Session) expire(pc *pendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[pc.key] != pc {
		return
	}
	err := xerrors.Newf(xerrors.CodeTimeout, "%s request %d timed out", pc.method, pc.key)
	s.lastErr = err.Message()
	metrics.RequestTimeouts.WithLabelValues(pc.method).Inc()
	s.log.Warn("清算节点请求超时", slog.String("method", pc.method), slog.Uint64("request_id", pc.key))
	s.settleLocked(pc.key, Event{}, err)
}

// refreshLocked 构造并登记通道列表与账本余额两个请求，由调用方在解锁后发送。
func (s *Session) refreshLocked() ([]outbound, error) {
	ts := s.now().UnixMilli()
	channelsID := s.nextRequestIDLocked()
	channels, err := BuildGetChannels(channelsID, ts, s.wallet.Address().Hex())
	if err != nil {
		return nil, err
	}
	balancesID := s.nextRequestIDLocked()
	balances, err := BuildGetLedgerBalances(s.key, balancesID, ts)
	if err != nil {
		return nil, err
	}
	return []outbound{
		{id: channelsID, method: MethodGetChannels, frame: channels, call: s.registerLocked(channelsID, MethodGetChannels, false)},
		{id: balancesID, method: MethodGetLedgerBalances, frame: balances, call: s.registerLocked(balancesID, MethodGetLedgerBalances, false)},
	}, nil
}

// answers 判断事件能否结算方法为 method 的请求。错误响应可结算任意请求。
func answers(method string, ev Event) bool {
	switch ev.Kind {
	case EventRemoteError:
		return true
	case EventChallenge:
		return method == MethodAuthRequest
	case EventAuthenticated:
		return method == MethodAuthRequest || method == MethodAuthVerify
	case EventChannels:
		return method == MethodGetChannels
	default:
		return method == ev.Method
	}
}

// resolveLocked 只在 id 与方法都匹配时结算请求，服务端主动推送不会误结算同 id 的其他请求。
func (s *Session) resolveLocked(ev Event, err error) {
	pc, ok := s.pending[ev.RequestID]
	if !ok || !answers(pc.method, ev) {
		return
	}
	s.settleLocked(ev.RequestID, ev, err)
}

// settleLocked 结算并移除挂起请求，成功时提交其乐观增量，失败时回滚。
func (s *Session) settleLocked(key uint64, ev Event, err error) {
	pc, ok := s.pending[key]
	if !ok {
		return
	}
	delete(s.pending, key)
	pc.timer.Stop()
	metrics.PendingRequests.Dec()
	if pc.credit {
		if err != nil {
			s.ledger.Rollback(key)
		} else {
			s.ledger.Commit(key)
		}
	}
	if err != nil && pc.method == MethodCreateChannel && s.channelID == "" && s.state == StateChannelPending && !s.hasPendingLocked(MethodCreateChannel) {
		s.state = StateAuthenticated
	}
	pc.call.resolve(ev, err)
}

func (s *Session) hasPendingLocked(method string) bool {
	for _, pc := range s.pending {
		if pc.method == method {
			return true
		}
	}
	return false
}

// resetLocked 拒绝全部挂起请求并把会话恢复到初始状态。
func (s *Session) resetLocked(cause error) {
	for key := range s.pending {
		s.settleLocked(key, Event{}, cause)
	}
	if s.key != nil {
		s.key.Zero()
		s.key = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.ledger.Reset()
	s.ledgerBalance = decimal.Zero
	s.transport = nil
	s.wallet = nil
	s.sessionKey = ""
	s.channelID = ""
	s.funded = false
	s.connected = false
	s.authenticated = false
	s.state = StateDisconnected
}

func (s *Session) send(ctx context.Context, t Transport, key uint64, method string, frame []byte) error {
	if t == nil {
		err := xerrors.New(xerrors.CodeConnection, "session is not connected")
		s.mu.Lock()
		s.settleLocked(key, Event{}, err)
		s.lastErr = err.Message()
		s.mu.Unlock()
		return err
	}
	if err := t.Send(ctx, frame); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeConnection, err, "send "+method)
		s.mu.Lock()
		s.settleLocked(key, Event{}, wrapped)
		s.lastErr = wrapped.Message()
		s.mu.Unlock()
		return wrapped
	}
	metrics.FramesTotal.WithLabelValues("out", method).Inc()
	return nil
}

// sendFollowUp 发送事件循环内部触发的请求，失败只记录在 LastError。
func (s *Session) sendFollowUp(t Transport, key uint64, method string, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	if err := s.send(ctx, t, key, method, frame); err != nil {
		s.log.Warn("清算节点请求发送失败", slog.String("method", method), slog.Any("error", err))
	}
}

func (s *Session) loop(t Transport) {
	for ev := range t.Events() {
		switch ev.Kind {
		case TransportOpen:
			s.log.Debug("清算节点连接已打开")
		case TransportMessage:
			s.handleFrame(t, ev.Data)
		case TransportError:
			s.mu.Lock()
			if s.transport == t && ev.Err != nil {
				s.lastErr = ev.Err.Error()
			}
			s.mu.Unlock()
			s.log.Warn("清算节点连接错误", slog.Any("error", ev.Err))
		case TransportClose:
			s.mu.Lock()
			current := s.transport == t
			if current {
				s.resetLocked(xerrors.New(xerrors.CodeConnection, "connection closed"))
			}
			s.mu.Unlock()
			if current {
				s.log.Info("清算节点连接已关闭")
			}
		}
	}
}

func (s *Session) handleFrame(t Transport, data []byte) {
	ev, err := Dispatch(data)
	if err != nil {
		s.mu.Lock()
		if s.transport == t {
			s.lastErr = xerrors.MessageOf(err)
		}
		s.mu.Unlock()
		s.log.Warn("无法解析清算节点消息", slog.Any("error", err))
		return
	}
	metrics.FramesTotal.WithLabelValues("in", ev.Method).Inc()

	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	followUp := s.applyLocked(t, ev)
	observers := append([]func(Event){}, s.observers...)
	s.mu.Unlock()

	if followUp != nil {
		followUp()
	}
	for _, fn := range observers {
		fn(ev)
	}
}

// applyLocked 应用事件对会话状态的影响并结算关联请求。
// 需要继续发送请求时返回一个在解锁后执行的函数。
func (s *Session) applyLocked(t Transport, ev Event) func() {
	switch ev.Kind {
	case EventRemoteError:
		s.lastErr = ev.Message
		s.resolveLocked(ev, xerrors.New(xerrors.CodeRemote, ev.Message))

	case EventChallenge:
		if s.wallet == nil {
			s.lastErr = "no wallet account found"
			return nil
		}
		id := s.nextRequestIDLocked()
		frame, err := BuildAuthVerify(s.wallet, id, s.now().UnixMilli(), ev.Challenge)
		if err != nil {
			s.lastErr = xerrors.MessageOf(err)
			s.resolveLocked(ev, err)
			return nil
		}
		if pc, ok := s.pending[ev.RequestID]; ok && answers(pc.method, ev) {
			delete(s.pending, ev.RequestID)
			pc.key = id
			pc.method = MethodAuthVerify
			s.pending[id] = pc
		} else {
			s.registerLocked(id, MethodAuthVerify, false)
		}
		return func() { s.sendFollowUp(t, id, MethodAuthVerify, frame) }

	case EventAuthenticated:
		s.sessionKey = ev.SessionKey
		s.authenticated = true
		if s.state < StateAuthenticated {
			s.state = StateAuthenticated
		}
		s.resolveLocked(ev, nil)
		s.log.Info("清算节点鉴权成功")
		if s.cfg.RefreshOnAuth && s.wallet != nil && s.key != nil {
			out, err := s.refreshLocked()
			if err != nil {
				s.lastErr = xerrors.MessageOf(err)
				return nil
			}
			return func() {
				for _, o := range out {
					s.sendFollowUp(t, o.id, o.method, o.frame)
				}
			}
		}

	case EventChannels:
		if ch, ok := FirstOpen(ev.Channels); ok && ch.ChannelID != "" {
			amount, err := decimal.NewFromString(ch.Amount)
			if err != nil {
				amount = decimal.Zero
			}
			s.channelID = ch.ChannelID
			s.ledger.Replace(amount)
			s.funded = amount.IsPositive()
			if s.state.authenticated() {
				s.state = StateChannelOpen
			}
		}
		s.resolveLocked(ev, nil)

	case EventChannelCreated:
		s.channelID = ev.ChannelID
		s.funded = false
		if s.state.authenticated() {
			s.state = StateChannelOpen
		}
		s.resolveLocked(ev, nil)

	case EventChannelFunded:
		s.funded = true
		s.resolveLocked(ev, nil)

	case EventLedgerBalances:
		for _, b := range ev.Balances {
			if !strings.EqualFold(b.Asset, s.cfg.AllowanceAsset) {
				continue
			}
			if amount, err := decimal.NewFromString(b.Amount); err == nil {
				s.ledgerBalance = amount
			}
		}
		s.resolveLocked(ev, nil)

	case EventTransfer:
		s.ledger.Debit(ev.Amount)
		s.resolveLocked(ev, nil)

	default:
		s.resolveLocked(ev, nil)
	}
	return nil
}
