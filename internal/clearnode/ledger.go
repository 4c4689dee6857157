package clearnode

import "github.com/shopspring/decimal"

// Ledger 维护确认余额与按请求号挂起的乐观增量。展示余额为两者之和且不小于零。
// Ledger 本身不加锁，由 Session 的互斥锁保护。
type Ledger struct {
	confirmed decimal.Decimal
	pending   map[uint64]decimal.Decimal
}

// NewLedger 创建空账本。
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[uint64]decimal.Decimal)}
}

// Balance returns confirmed plus all pending deltas.
func (l *Ledger) Balance() decimal.Decimal {
	total := l.confirmed
	for _, delta := range l.pending {
		total = total.Add(delta)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Credit 记录一笔尚未确认的入金。
func (l *Ledger) Credit(id uint64, amount decimal.Decimal) {
	l.pending[id] = l.pending[id].Add(amount)
}

// Commit moves the delta of id into the confirmed balance.
func (l *Ledger) Commit(id uint64) bool {
	delta, ok := l.pending[id]
	if !ok {
		return false
	}
	delete(l.pending, id)
	l.confirmed = l.confirmed.Add(delta)
	l.normalize()
	return true
}

// Rollback drops the delta of id.
func (l *Ledger) Rollback(id uint64) bool {
	if _, ok := l.pending[id]; !ok {
		return false
	}
	delete(l.pending, id)
	l.normalize()
	return true
}

// Debit 扣减确认余额，展示余额在零处截断。
func (l *Ledger) Debit(amount decimal.Decimal) {
	l.confirmed = l.confirmed.Sub(amount)
	l.normalize()
}

// Replace 用服务端的权威值覆盖余额，并丢弃所有挂起增量。
func (l *Ledger) Replace(amount decimal.Decimal) {
	l.confirmed = amount
	l.pending = make(map[uint64]decimal.Decimal)
	l.normalize()
}

// Reset clears everything.
func (l *Ledger) Reset() {
	l.confirmed = decimal.Zero
	l.pending = make(map[uint64]decimal.Decimal)
}

// PendingDeltas 返回挂起增量的数量。
func (l *Ledger) PendingDeltas() int {
	return len(l.pending)
}

func (l *Ledger) normalize() {
	total := l.confirmed
	for _, delta := range l.pending {
		total = total.Add(delta)
	}
	if total.IsNegative() {
		l.confirmed = l.confirmed.Sub(total)
	}
}
