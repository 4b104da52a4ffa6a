package sink

import (
	"context"
	"slices"
	"sync"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

// Memory keeps every row in memory. It is meant for tests and small
// previews; it defeats the window on purpose.
type Memory struct {
	mu        sync.Mutex
	layout    *models.SheetLayout
	header    []string
	batches   [][]models.Row
	finalized int

	// AppendErr, when set, is returned by AppendRows instead of storing.
	AppendErr error
	// FinalizeErr, when set, is returned by Finalize.
	FinalizeErr error
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ApplyLayout(_ context.Context, layout models.SheetLayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layout = &layout
	return nil
}

func (m *Memory) WriteHeader(_ context.Context, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = slices.Clone(headers)
	return nil
}

func (m *Memory) AppendRows(_ context.Context, batch []models.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.batches = append(m.batches, slices.Clone(batch))
	return nil
}

func (m *Memory) Finalize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized++
	return m.FinalizeErr
}

// Layout returns the applied layout, if any.
func (m *Memory) Layout() (models.SheetLayout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layout == nil {
		return models.SheetLayout{}, false
	}
	return *m.layout, true
}

// Header returns the header row, nil if none was written.
func (m *Memory) Header() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.header)
}

// Rows returns every stored row in order.
func (m *Memory) Rows() []models.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Row
	for _, b := range m.batches {
		rows = append(rows, b...)
	}
	return rows
}

// BatchSizes returns the size of every AppendRows call, in order.
func (m *Memory) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.batches))
	for i, b := range m.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// Finalized returns the number of Finalize calls.
func (m *Memory) Finalized() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

// Touched reports whether any sink method was called.
func (m *Memory) Touched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout != nil || m.header != nil || len(m.batches) > 0 || m.finalized > 0
}
