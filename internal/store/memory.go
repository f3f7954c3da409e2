package store

import (
	"context"
	"maps"
	"sync"
)

type Memory struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemory() *Memory {
	return &Memory{vals: map[string]string{}}
}

func (m *Memory) Load(_ context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.vals)
}

func (m *Memory) Save(_ context.Context, r Record) error {
	vals, err := encode(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.vals = vals
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.vals = map[string]string{}
	m.mu.Unlock()
	return nil
}

// Raw returns a copy of the stored keys, for inspection.
func (m *Memory) Raw() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.vals)
}
