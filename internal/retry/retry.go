package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"tokenscan/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Policy 退避策略
type Policy struct {
	MaxAttempts int           // 最大尝试次数，包括第一次
	Initial     time.Duration // 第一次重试前的等待
	Max         time.Duration // 等待上限
	Multiplier  float64
	Jitter      float64 // 0 到 1 之间，等待时间在 ±Jitter 比例内随机
}

// DialPolicy 连接节点时使用，节点启动慢或网络抖动
var DialPolicy = Policy{
	MaxAttempts: 3,
	Initial:     500 * time.Millisecond,
	Max:         10 * time.Second,
	Multiplier:  2,
	Jitter:      0.2,
}

// Delay 第 attempt 次失败后的等待时间，不含抖动
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Initial
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * p.Multiplier)
		if next <= delay {
			break
		}
		if p.Max > 0 && next >= p.Max {
			delay = p.Max
			break
		}
		delay = next
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Permanent 包装后的错误不再重试
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// transientMessages 节点或网络暂时不可用的错误信息片段
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"temporary failure",
	"service unavailable",
	"bad gateway",
	"too many requests",
	"rate limit",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
}

// IsTransient 判断错误是否值得重试
// 节点返回了JSON-RPC错误码说明请求已到达节点，不重试：结果过多由二分处理，回滚是否定结果，其余是致命错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var permanent *Permanent
	if errors.As(err, &permanent) {
		return false
	}

	var flagged interface{ IsRetryable() bool }
	if errors.As(err, &flagged) {
		return flagged.IsRetryable()
	}

	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Retrier 按策略重试操作
type Retrier struct {
	policy    Policy
	transient func(error) bool
	logger    *logrus.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetrier 创建重试器，transient 为空时使用 IsTransient
func NewRetrier(policy Policy, transient func(error) bool, logger *logrus.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if transient == nil {
		transient = IsTransient
	}
	return &Retrier{
		policy:    policy,
		transient: transient,
		logger:    logger,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// wait 计算带抖动的等待时间
func (r *Retrier) wait(attempt int) time.Duration {
	delay := r.policy.Delay(attempt)
	if r.policy.Jitter <= 0 || delay <= 0 {
		return delay
	}

	r.mu.Lock()
	f := r.rand.Float64()
	r.mu.Unlock()

	spread := float64(delay) * r.policy.Jitter
	return time.Duration(float64(delay) - spread + 2*spread*f)
}

// Do 执行 fn 直到成功、遇到不可重试错误、次数用完或 ctx 结束
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return value, nil
		}

		if !r.transient(err) {
			return zero, err
		}
		if attempt >= r.policy.MaxAttempts {
			r.logger.Errorf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return zero, fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.wait(attempt)
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
		r.logger.Warnf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}

// Execute 无返回值版本的 Do
func (r *Retrier) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
