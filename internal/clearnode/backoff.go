package clearnode

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"VelocityVault/internal/config"
)

// Backoff 描述监控进程的重连策略：base 起步按 2 倍增长、封顶于 max，
// 每次等待按 Jitter 比例随机浮动，连续失败超过 MaxRetries 次后停止。MaxRetries 为 0 表示不限次数。
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Jitter     float64
	MaxRetries int
}

// BackoffFrom builds the monitor policy from configuration.
func BackoffFrom(cfg config.MonitorConfig) *Backoff {
	return NewBackoff(
		time.Duration(cfg.BackoffBaseMillis)*time.Millisecond,
		time.Duration(cfg.BackoffMaxSeconds)*time.Second,
		cfg.JitterFactor,
		cfg.MaxRetries,
	)
}

// NewBackoff fills zero durations with 1s / 1m.
func NewBackoff(base, max time.Duration, jitter float64, maxRetries int) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{Base: base, Max: max, Jitter: jitter, MaxRetries: maxRetries}
}

// Sequence 返回一条新的等待序列。序列耗尽时 NextBackOff 返回 backoff.Stop，Reset 后从 base 重新开始。
func (b *Backoff) Sequence() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Base
	exp.MaxInterval = b.Max
	exp.Multiplier = 2
	exp.RandomizationFactor = b.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	if b.MaxRetries > 0 {
		return backoff.WithMaxRetries(exp, uint64(b.MaxRetries))
	}
	return exp
}
