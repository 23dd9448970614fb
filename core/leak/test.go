package leak

import (
	"sort"
	"sync"
	"sync/atomic"
)

// 测试生命周期: created -> active -> finalized
const (
	stateCreated int32 = iota
	stateActive
	stateFinalized
)

// Test 单个 DNS 泄露测试。expected 创建后不再变化，observed 只增不减。
type Test struct {
	ID       string
	expected map[string]struct{}
	domains  []string

	mu       sync.Mutex
	observed map[string]struct{}

	state atomic.Int32
}

func newTest(id string, domains []string) *Test {
	t := &Test{
		ID:       id,
		expected: make(map[string]struct{}, len(domains)),
		domains:  append([]string(nil), domains...),
		observed: make(map[string]struct{}),
	}
	for _, d := range domains {
		t.expected[d] = struct{}{}
	}
	return t
}

// Domains 返回生成的域名（创建顺序）
func (t *Test) Domains() []string {
	return append([]string(nil), t.domains...)
}

// observe 只记录 expected 中的域名
func (t *Test) observe(name string) bool {
	if _, ok := t.expected[name]; !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Load() == stateFinalized {
		return false
	}
	t.observed[name] = struct{}{}
	return true
}

func (t *Test) complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observed) >= len(t.expected)
}

func (t *Test) claim() bool {
	return t.state.CompareAndSwap(stateCreated, stateActive)
}

// finalize 冻结 observed 并生成结果
func (t *Test) finalize() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Store(stateFinalized)

	res := &Result{
		TestID:   t.ID,
		Expected: sortedKeys(t.expected),
		Seen:     sortedKeys(t.observed),
		Missing:  []string{},
	}
	for _, d := range res.Expected {
		if _, ok := t.observed[d]; !ok {
			res.Missing = append(res.Missing, d)
		}
	}
	res.LeakDetected = len(res.Missing) > 0
	return res
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expire 未检查的测试过期，返回是否由本次调用结束
func (t *Test) expire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.CompareAndSwap(stateCreated, stateFinalized)
}
