package portfolio

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/ens"
)

const testUser = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"

type fakeENS struct {
	mu       sync.Mutex
	updates  []ens.Stats
	records  ens.Records
	readErr  error
	updateOK int
}

func (f *fakeENS) Update(_ context.Context, name string, stats ens.Stats) ([]common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, stats)
	hashes := make([]common.Hash, 0, f.updateOK)
	for i := 0; i < f.updateOK; i++ {
		hashes = append(hashes, common.BigToHash(common.Big1))
	}
	if f.updateOK < len(ens.Keys) {
		return hashes, stdErrors.New("resolver rejected write")
	}
	return hashes, nil
}

func (f *fakeENS) Read(context.Context, string) (ens.Records, error) {
	return f.records, f.readErr
}

type serviceFixture struct {
	store *MemoryStore
	svc   *Service
	ens   *fakeENS
	now   time.Time
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store: NewMemoryStore(),
		ens:   &fakeENS{updateOK: len(ens.Keys)},
		now:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.now = clock
	f.svc = NewService(f.store, WithENS(f.ens), WithClock(clock))
	return f
}

func (f *serviceFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *serviceFixture) mandate(expires time.Duration) Mandate {
	return Mandate{
		UserAddress:     testUser,
		YellowSessionID: "session-1",
		MaxTradeSize:    "100",
		AllowedPairs:    []string{"ETH/USDC"},
		RiskLevel:       RiskModerate,
		ExpiresAt:       f.now.Add(expires),
		Signature:       "0xsig",
	}
}

func TestCreateSessionRevokesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx, f.mandate(time.Hour))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.advance(time.Second)
	second, err := f.svc.CreateSession(ctx, f.mandate(2*time.Hour))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct mandate ids")
	}

	active, err := f.svc.ActiveSession(ctx, testUser)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active.ID != second.ID || active.UserAddress != NormalizeAddress(testUser) {
		t.Fatalf("unexpected active mandate %+v", active)
	}
	if _, err := f.store.GetUser(ctx, NormalizeAddress(testUser)); err != nil {
		t.Fatalf("user should be created: %v", err)
	}

	if err := f.svc.RevokeSession(ctx, testUser); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := f.svc.ActiveSession(ctx, testUser); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found after revoke, got %v", err)
	}
}

func TestCreateSessionValidates(t *testing.T) {
	f := newFixture(t)
	bad := f.mandate(time.Hour)
	bad.UserAddress = "0x123"
	bad.RiskLevel = "yolo"
	_, err := f.svc.CreateSession(context.Background(), bad)
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyIntentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := Intent{UserAddress: testUser, Action: IntentStart}

	_, err := f.svc.ApplyIntent(ctx, intent)
	if e, ok := xerrors.From(err); !ok || e.Code() != xerrors.CodeForbidden || e.Message() != "No active mandate found. Please create a session first." {
		t.Fatalf("expected forbidden without mandate, got %v", err)
	}

	if _, err := f.svc.CreateSession(ctx, f.mandate(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	state, err := f.svc.ApplyIntent(ctx, intent)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !state.IsRunning || state.Strategy != StrategyMomentum || state.TotalPnL != "0" || state.CurrentPositions == nil {
		t.Fatalf("unexpected started state %+v", state)
	}

	if _, err := f.svc.ApplyIntent(ctx, intent); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("second start should fail, got %v", err)
	}

	stopped, err := f.svc.ApplyIntent(ctx, Intent{UserAddress: testUser, Action: IntentStop})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.IsRunning || stopped.Strategy != StrategyMomentum {
		t.Fatalf("unexpected stopped state %+v", stopped)
	}
	_, err = f.svc.ApplyIntent(ctx, Intent{UserAddress: testUser, Action: IntentStop})
	if e, ok := xerrors.From(err); !ok || e.Message() != "Agent is not running" {
		t.Fatalf("second stop should fail, got %v", err)
	}

	logs, err := f.svc.Trades(ctx, testUser, 0, 0)
	if err != nil || len(logs) != 0 {
		t.Fatalf("agent lifecycle logs are not trades: %v %v", logs, err)
	}
	stats, err := f.svc.Stats(ctx, testUser)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTrades != 2 || stats.SuccessfulTrades != 2 || stats.SuccessRate != 100 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestUpdatePnLAndViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.State(ctx, testUser, false); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("unknown user should be not found, got %v", err)
	}

	if _, err := f.svc.CreateSession(ctx, f.mandate(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.svc.ApplyIntent(ctx, Intent{UserAddress: testUser, Action: IntentStart, Strategy: StrategyArbitrage}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.advance(time.Second)
	err := f.svc.UpdatePnL(ctx, PnLUpdate{
		UserAddress: testUser,
		PnL:         "125.5",
		Trade:       &TradeRecord{Pair: "ETH/USDC", Side: "buy", Amount: "1", Price: "3000"},
	})
	if err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}

	state, err := f.svc.State(ctx, testUser, false)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.CurrentPnL != "125.5" || state.Mandate == nil || state.AgentState == nil || state.ENSData != nil {
		t.Fatalf("unexpected state %+v", state)
	}

	positions, err := f.svc.Positions(ctx, testUser)
	if err != nil || !positions.IsRunning || positions.TotalPnL != "125.5" {
		t.Fatalf("unexpected positions %+v (%v)", positions, err)
	}

	trades, err := f.svc.Trades(ctx, testUser, 10, 0)
	if err != nil || len(trades) != 1 || trades[0].Pair != "ETH/USDC" {
		t.Fatalf("unexpected trades %+v (%v)", trades, err)
	}

	feed, err := f.svc.Activity(ctx, testUser, 0, 0)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(feed.Logs) != 2 || feed.Logs[0].Action != "trade" || feed.TotalTrades != 2 {
		t.Fatalf("unexpected feed %+v", feed)
	}

	pnl, err := f.svc.PnL(ctx, testUser)
	if err != nil || pnl.CurrentPnL != "125.5" || pnl.LastSnapshot != nil {
		t.Fatalf("unexpected pnl %+v (%v)", pnl, err)
	}
}

func TestUpdateENSWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.UpdateENS(ctx, testUser); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found without ens name, got %v", err)
	}

	if _, err := f.svc.RegisterENSName(ctx, testUser, "Trader.ETH"); err != nil {
		t.Fatalf("RegisterENSName: %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, f.mandate(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.svc.ApplyIntent(ctx, Intent{UserAddress: testUser, Action: IntentStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.UpdatePnL(ctx, PnLUpdate{UserAddress: testUser, PnL: "250"}); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}

	f.ens.updateOK = 4
	result, err := f.svc.UpdateENS(ctx, testUser)
	if err != nil {
		t.Fatalf("UpdateENS: %v", err)
	}
	if result.ENSName != "trader.eth" || len(result.TxHashes) != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.ens.updates) != 1 {
		t.Fatalf("expected one ens update, got %d", len(f.ens.updates))
	}
	sent := f.ens.updates[0]
	if sent.PnL != "250" || sent.PnLPercent != 2.5 || sent.AgentStatus != "running" || sent.TotalTrades != 1 || sent.WinRate != 100 {
		t.Fatalf("unexpected stats %+v", sent)
	}

	pnl, err := f.svc.PnL(ctx, testUser)
	if err != nil {
		t.Fatalf("PnL: %v", err)
	}
	if pnl.CurrentPnL != "250" || !pnl.ENSUpdated || pnl.PnLPercent != 2.5 || pnl.LastSnapshot == nil {
		t.Fatalf("unexpected pnl %+v", pnl)
	}
	history, err := f.svc.PnLHistory(ctx, testUser, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("unexpected history %+v (%v)", history, err)
	}
}

func TestStateIncludesENSOnlyWhenRequested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ens.records = ens.Records{PnL: "10.00", AgentStatus: "running"}
	if _, err := f.svc.RegisterENSName(ctx, testUser, "trader.eth"); err != nil {
		t.Fatalf("RegisterENSName: %v", err)
	}

	state, err := f.svc.State(ctx, testUser, true)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ENSData == nil || state.ENSData.PnL != "10.00" || state.CurrentPnL != "0" {
		t.Fatalf("unexpected state %+v", state)
	}

	f.ens.readErr = stdErrors.New("rpc down")
	state, err = f.svc.State(ctx, testUser, true)
	if err != nil {
		t.Fatalf("ens failure must not fail state: %v", err)
	}
	if state.ENSData != nil {
		t.Fatalf("ens data should be omitted on failure")
	}
}

func TestReadENSValidatesName(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ReadENS(context.Background(), "nodot"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	view, err := f.svc.ReadENS(context.Background(), "vitalik.eth")
	if err != nil || view.ENSName != "vitalik.eth" {
		t.Fatalf("unexpected view %+v (%v)", view, err)
	}

	bare := NewService(NewMemoryStore())
	if _, err := bare.ReadENS(context.Background(), "vitalik.eth"); xerrors.CodeOf(err) != xerrors.CodeNotConfigured {
		t.Fatalf("expected not configured, got %v", err)
	}
}
