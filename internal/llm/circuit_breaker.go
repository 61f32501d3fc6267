package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 熔断打开，请求被直接拒绝
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker 熔断器：连续失败达到阈值后打开，超时后半开试探
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time

	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Call 执行函数调用（带熔断保护）。调用方取消的ctx不计为失败。
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				cb.state = StateClosed
				cb.failureCount = 0
			}
		case StateClosed:
			cb.failureCount = 0
		}
		return
	}

	cb.lastFailureTime = cb.now()
	switch cb.state {
	case StateHalfOpen:
		// 半开状态下失败，直接打开熔断器
		cb.state = StateOpen
		cb.successCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
		}
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats 获取统计信息
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"failure_threshold": cb.failureThreshold,
		"timeout":           cb.timeout.String(),
	}
}

// BreakerGenerator 为Generator加上熔断和单次调用超时
type BreakerGenerator struct {
	next    Generator
	breaker *CircuitBreaker
	timeout time.Duration
}

// NewBreakerGenerator 包装生成器，timeout为0表示不额外限制
func NewBreakerGenerator(next Generator, breaker *CircuitBreaker, timeout time.Duration) *BreakerGenerator {
	return &BreakerGenerator{next: next, breaker: breaker, timeout: timeout}
}

// Generate 单次调用超时在熔断器内部生效，超时计为失败；只有调用方ctx结束才不计。
func (g *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		var err error
		answer, err = g.next.Generate(ctx, prompt)
		return err
	})
	return answer, err
}

func (g *BreakerGenerator) Model() string { return g.next.Model() }

func (g *BreakerGenerator) Ready() bool {
	return g.next.Ready() && g.breaker.State() != StateOpen
}

// Breaker 底层熔断器
func (g *BreakerGenerator) Breaker() *CircuitBreaker { return g.breaker }
