// Package throttle 为配额受限的外部 API 提供串行化与最小间隔限流。
package throttle

import (
	"context"
	"time"
)

// 中文说明：
// Gate 是按服务持有的限流闸门：行情源与 LLM 后端各持一个实例，
// 由调用方显式传递，不做进程级全局状态。
//
// 互斥锁的范围必须覆盖"等待+执行"整段，而不仅是时间戳读取，
// 否则两个线程可能同时读到过期时间戳后一起放行。

// Gate 序列化所有经过它的调用，并保证上一次调用完成到下一次调用
// 开始的间隔不小于 minInterval。
type Gate struct {
	minInterval time.Duration
	sem         chan struct{} // 容量 1，作为可被 context 打断的互斥锁
	last        time.Time     // 上一次调用完成时刻，持锁访问
}

// New 创建一个最小间隔为 minInterval 的 Gate。间隔 <= 0 表示只串行化不等待。
func New(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		sem:         make(chan struct{}, 1),
	}
}

// Do 在闸门保护下执行 fn：
//  1. 取得全局锁（可被 ctx 取消打断）；
//  2. 距上次调用完成不足 minInterval 时补足等待；
//  3. 执行 fn；
//  4. 无论 fn 成败都刷新完成时间戳（冷却对失败的调用同样生效），错误原样上抛。
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	if !g.last.IsZero() && g.minInterval > 0 {
		if wait := g.minInterval - time.Since(g.last); wait > 0 {
			if err := sleepWithContext(ctx, wait); err != nil {
				return err
			}
		}
	}

	err := fn()
	g.last = time.Now()
	return err
}

// DoValue 是 Do 的带返回值版本。
func DoValue[T any](ctx context.Context, g *Gate, fn func() (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func() error {
		v, ferr := fn()
		if ferr != nil {
			return ferr
		}
		out = v
		return nil
	})
	return out, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
