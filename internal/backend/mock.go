package backend

import (
	"context"
	"sync"
)

// MockGenerator scripts responses for tests. Each call consumes the
// next scripted step; the last step repeats when the script runs out.
type MockGenerator struct {
	mu      sync.Mutex
	steps   []MockStep
	calls   int
	prompts []string
	model   string
	closed  bool
}

// MockStep is one scripted outcome.
type MockStep struct {
	Text string
	Err  error
}

var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator scripts a generator.
func NewMockGenerator(model string, steps ...MockStep) *MockGenerator {
	return &MockGenerator{model: model, steps: steps}
}

func (m *MockGenerator) ModelID() string { return m.model }

func (m *MockGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Prompt)
	step := MockStep{}
	if len(m.steps) > 0 {
		i := m.calls
		if i >= len(m.steps) {
			i = len(m.steps) - 1
		}
		step = m.steps[i]
	}
	m.calls++
	if step.Err != nil {
		return nil, step.Err
	}
	return &Completion{
		Text:      step.Text,
		TokensIn:  len(req.Prompt) / 4,
		TokensOut: len(step.Text) / 4,
		LatencyMS: 1,
	}, nil
}

// Calls returns how many times Generate ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt seen, in order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func (m *MockGenerator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
