package sink

import (
	"context"
	"sync/atomic"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

// Discard counts rows and drops them. It backs dry runs.
type Discard struct {
	rows    atomic.Int64
	batches atomic.Int64
}

func (d *Discard) AppendRows(_ context.Context, batch []models.Row) error {
	d.rows.Add(int64(len(batch)))
	d.batches.Add(1)
	return nil
}

func (d *Discard) Finalize(context.Context) error { return nil }

// Rows returns the number of rows received.
func (d *Discard) Rows() int64 { return d.rows.Load() }

// Batches returns the number of batches received.
func (d *Discard) Batches() int64 { return d.batches.Load() }
