package clearnode

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerCommitAndRollback(t *testing.T) {
	l := NewLedger()
	l.Credit(1, d("10"))
	l.Credit(2, d("5"))
	if got := l.Balance().String(); got != "15" {
		t.Fatalf("balance = %s, want 15", got)
	}
	if !l.Commit(1) || l.Commit(1) {
		t.Fatalf("commit should succeed exactly once")
	}
	if !l.Rollback(2) {
		t.Fatalf("rollback should find delta 2")
	}
	if got := l.Balance().String(); got != "10" || l.PendingDeltas() != 0 {
		t.Fatalf("balance = %s pending = %d", got, l.PendingDeltas())
	}
}

func TestLedgerDebitNeverNegative(t *testing.T) {
	l := NewLedger()
	l.Credit(1, d("4"))
	l.Debit(d("6"))
	if !l.Balance().IsZero() {
		t.Fatalf("balance should clamp at zero, got %s", l.Balance())
	}
	l.Rollback(1)
	if !l.Balance().IsZero() {
		t.Fatalf("rollback after clamp went negative: %s", l.Balance())
	}
	l.Credit(2, d("3"))
	l.Commit(2)
	if got := l.Balance().String(); got != "3" {
		t.Fatalf("balance = %s, want 3", got)
	}
}

func TestLedgerReplaceDropsPending(t *testing.T) {
	l := NewLedger()
	l.Credit(1, d("10"))
	l.Replace(d("7.25"))
	if got := l.Balance().String(); got != "7.25" {
		t.Fatalf("balance = %s, want 7.25", got)
	}
	if l.Commit(1) {
		t.Fatalf("replaced delta should not commit")
	}
	l.Reset()
	if !l.Balance().IsZero() {
		t.Fatalf("reset should zero the ledger")
	}
}
