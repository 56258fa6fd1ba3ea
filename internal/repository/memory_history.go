package repository

import (
	"context"
	"slices"
	"sync"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	"CapitalDash/pkg/util"
)

// MemoryHistory is a process-local HistoryStore, used when storage is
// disabled and in tests.
type MemoryHistory struct {
	mu   sync.RWMutex
	bars map[string]map[util.Date]models.Bar
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{bars: make(map[string]map[util.Date]models.Bar)}
}

var _ repository.HistoryStore = (*MemoryHistory)(nil)

func (m *MemoryHistory) Init(context.Context) error { return nil }

func (m *MemoryHistory) Upsert(_ context.Context, symbol string, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.bars[symbol]
	if !ok {
		byDate = make(map[util.Date]models.Bar, len(bars))
		m.bars[symbol] = byDate
	}
	for _, b := range bars {
		byDate[b.Time] = b
	}
	return nil
}

func (m *MemoryHistory) Range(_ context.Context, symbol string, start, end util.Date) ([]models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Bar
	for d, b := range m.bars[symbol] {
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b models.Bar) int { return a.Time.Compare(b.Time) })
	return out, nil
}

func (m *MemoryHistory) Coverage(_ context.Context, symbol string) (util.Date, util.Date, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first, last util.Date
	for d := range m.bars[symbol] {
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if last.IsZero() || d.After(last) {
			last = d
		}
	}
	return first, last, !first.IsZero(), nil
}

func (m *MemoryHistory) Health(context.Context) error { return nil }

func (m *MemoryHistory) Close() error { return nil }
