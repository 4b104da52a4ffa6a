package streamsheet

import "fmt"

// Phase is a step of an export reported to progress listeners.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseFlushedBatch
	PhaseWritingWorkbook
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseFlushedBatch:
		return "flushed_batch"
	case PhaseWritingWorkbook:
		return "writing_workbook"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further progress follows p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// Progress is a snapshot of an export.
type Progress struct {
	Phase Phase
	// RowsWritten is the number of rows handed to the sink so far.
	RowsWritten int64
	// BatchesFlushed is the number of batches handed to the sink so far.
	BatchesFlushed int64
}
