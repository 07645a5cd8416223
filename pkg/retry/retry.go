// Package retry 有界重试策略, 基于 cenkalti/backoff
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 重试策略
//
// 策略本身不记录日志, 调用方通过 Notify 观察每次失败。
type Policy struct {
	// MaxAttempts 最多尝试次数 (含首次), <=0 表示直到 ctx 结束
	MaxAttempts int
	// Interval 两次尝试之间的固定间隔
	Interval time.Duration
	// Retryable 返回 false 的错误立即返回, 为空时所有错误都重试
	Retryable func(error) bool
	// Notify 每次失败后、等待前调用
	Notify func(attempt int, err error, next time.Duration)
}

// Constant 固定间隔的有界策略
func Constant(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval}
}

// WithNotify 返回带通知回调的副本
func (p Policy) WithNotify(fn func(attempt int, err error, next time.Duration)) Policy {
	p.Notify = fn
	return p
}

// WithRetryable 返回带重试判定的副本
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do 按策略执行 op, 返回最后一次的错误
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue 按策略执行带返回值的 op
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, next time.Duration) {
			p.Notify(attempt, err, next)
		}
	}
	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}
