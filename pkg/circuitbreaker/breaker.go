package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen 熔断器打开
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开
	FailureThreshold int `yaml:"failure_threshold"`
	// 半开状态下连续成功多少次后关闭
	SuccessThreshold int `yaml:"success_threshold"`
	// 打开后多久进入半开
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// 半开状态最大放行数
	MaxHalfOpenRequests int `yaml:"max_half_open_requests"`
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 3
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 1
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = 30 * time.Second
	}
	if out.MaxHalfOpenRequests <= 0 {
		out.MaxHalfOpenRequests = 1
	}
	return &out
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	name   string
	config *Config
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	openedAt         time.Time
	halfOpenRequests int

	onStateChange func(name string, from, to State)
}

// New 创建熔断器
func New(name string, config *Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		now:    time.Now,
		state:  StateClosed,
	}
}

// SetClock 替换时钟
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	cb.now = now
	cb.mu.Unlock()
}

// SetOnStateChange 设置状态变化回调, 回调在锁外执行
func (cb *CircuitBreaker) SetOnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Name 熔断器名称
func (cb *CircuitBreaker) Name() string { return cb.name }

// State 获取当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.observe()
}

// observe 计算当前状态, 打开超时后转为半开 (调用方持锁)
func (cb *CircuitBreaker) observe() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Allow 检查是否允许请求通过
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	var err error
	switch cb.observe() {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.state == StateOpen {
			cb.state = StateHalfOpen
			cb.successes = 0
			cb.halfOpenRequests = 0
		}
		if cb.halfOpenRequests >= cb.config.MaxHalfOpenRequests {
			err = ErrCircuitOpen
		} else {
			cb.halfOpenRequests++
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return err
}

// Success 记录成功
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	from := cb.state
	switch cb.observe() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.halfOpenRequests = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// Failure 记录失败
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	from := cb.state
	switch cb.observe() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.halfOpenRequests = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	cb.mu.Lock()
	fn := cb.onStateChange
	cb.mu.Unlock()
	if fn != nil {
		fn(cb.name, from, to)
	}
}

// Execute 执行函数并自动记录结果
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.Failure()
		return err
	}
	cb.Success()
	return nil
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenRequests = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

// Stats 统计信息
type Stats struct {
	State     State
	Failures  int
	Successes int
}

// Stats 获取统计信息
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:     cb.observe(),
		Failures:  cb.failures,
		Successes: cb.successes,
	}
}
