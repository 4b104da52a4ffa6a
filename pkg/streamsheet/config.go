// Package streamsheet exports record sequences to spreadsheet sinks through
// a bounded memory window.
package streamsheet

import (
	"fmt"
	"strings"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/writer"
)

// MaxDataRows is the number of data rows an XLSX sheet can hold below its
// header row.
const MaxDataRows = 1_048_575

const (
	// DefaultRowAccessWindowSize is the default number of rows kept in memory.
	DefaultRowAccessWindowSize = 100
	// DefaultFlushBatchSize is the default number of rows per flush.
	DefaultFlushBatchSize = 100
)

// FailurePolicy decides what happens to a record that cannot be encoded.
type FailurePolicy string

const (
	// PolicyAbort stops the export at the first bad record.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip drops the bad record and continues.
	PolicySkip FailurePolicy = "skip"
	// PolicySubstituteBlank writes a row of blank cells in place of the bad
	// record and continues.
	PolicySubstituteBlank FailurePolicy = "substitute_blank"
)

// ParseFailurePolicy parses a policy name. The empty string yields PolicyAbort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAbort, nil
	case PolicyAbort, PolicySkip, PolicySubstituteBlank:
		return p, nil
	case "substitute", "blank":
		return PolicySubstituteBlank, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// CancelPolicy decides what happens to buffered rows when an export is
// cancelled.
type CancelPolicy string

const (
	// CancelDiscard drops buffered rows.
	CancelDiscard CancelPolicy = "discard"
	// CancelFlush writes buffered rows before finalizing.
	CancelFlush CancelPolicy = "flush"
)

// ParseCancelPolicy parses a policy name. The empty string yields CancelDiscard.
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch p := CancelPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CancelDiscard, nil
	case CancelDiscard, CancelFlush:
		return p, nil
	}
	return "", fmt.Errorf("unknown cancel policy %q", s)
}

// Config configures an export. It is a plain value; copies are independent.
type Config struct {
	// RowAccessWindowSize is the maximum number of rows resident in memory.
	RowAccessWindowSize int `json:"row_access_window_size" yaml:"row_access_window_size"`
	// FlushBatchSize is the number of rows written per flush. Values above
	// RowAccessWindowSize are clamped.
	FlushBatchSize int `json:"flush_batch_size" yaml:"flush_batch_size"`
	// PreventFormulaInjection enables the formula guard on text cells.
	PreventFormulaInjection bool `json:"prevent_formula_injection" yaml:"prevent_formula_injection"`
	// MaxRows limits the number of data rows. Zero means no limit other
	// than MaxDataRows.
	MaxRows int64 `json:"max_rows" yaml:"max_rows"`
	// FailurePolicy applies to records that cannot be encoded.
	FailurePolicy FailurePolicy `json:"failure_policy" yaml:"failure_policy"`
	// CancelPolicy applies to buffered rows on cancellation.
	CancelPolicy CancelPolicy `json:"cancel_policy" yaml:"cancel_policy"`
}

// DefaultConfig returns the default export configuration.
func DefaultConfig() Config {
	return Config{
		RowAccessWindowSize:     DefaultRowAccessWindowSize,
		FlushBatchSize:          DefaultFlushBatchSize,
		PreventFormulaInjection: true,
		FailurePolicy:           PolicyAbort,
		CancelPolicy:            CancelDiscard,
	}
}

// HighPerformanceConfig keeps a small window for low memory use.
func HighPerformanceConfig() Config {
	c := DefaultConfig()
	c.RowAccessWindowSize = 50
	c.FlushBatchSize = 50
	return c
}

// SecurityHardenedConfig guards formulas and refuses to continue past a bad
// record.
func SecurityHardenedConfig() Config {
	c := DefaultConfig()
	c.PreventFormulaInjection = true
	c.FailurePolicy = PolicyAbort
	return c
}

// HighQualityConfig trades memory for fewer, larger flushes.
func HighQualityConfig() Config {
	c := DefaultConfig()
	c.RowAccessWindowSize = 200
	c.FlushBatchSize = 200
	return c
}

// Preset returns a named configuration: default, high_performance,
// security_hardened or high_quality.
func Preset(name string) (Config, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")) {
	case "", "default":
		return DefaultConfig(), nil
	case "high_performance":
		return HighPerformanceConfig(), nil
	case "security_hardened":
		return SecurityHardenedConfig(), nil
	case "high_quality":
		return HighQualityConfig(), nil
	}
	return Config{}, NewConfigError("preset", fmt.Sprintf("unknown preset %q", name))
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.RowAccessWindowSize <= 0 {
		return NewConfigError("row_access_window_size", "must be positive")
	}
	if c.FlushBatchSize <= 0 {
		return NewConfigError("flush_batch_size", "must be positive")
	}
	if c.MaxRows < 0 {
		return NewConfigError("max_rows", "must not be negative")
	}
	if _, err := ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return NewConfigError("failure_policy", err.Error())
	}
	if _, err := ParseCancelPolicy(string(c.CancelPolicy)); err != nil {
		return NewConfigError("cancel_policy", err.Error())
	}
	return nil
}

// EffectiveFlushBatchSize returns the flush size after clamping to the window.
func (c Config) EffectiveFlushBatchSize() int {
	return c.writerConfig().Threshold()
}

// RowLimit returns the effective data row limit.
func (c Config) RowLimit() int64 {
	if c.MaxRows > 0 && c.MaxRows < MaxDataRows {
		return c.MaxRows
	}
	return MaxDataRows
}

func (c Config) failurePolicy() FailurePolicy {
	p, _ := ParseFailurePolicy(string(c.FailurePolicy))
	return p
}

func (c Config) cancelPolicy() CancelPolicy {
	p, _ := ParseCancelPolicy(string(c.CancelPolicy))
	return p
}

func (c Config) writerConfig() writer.Config {
	return writer.Config{
		WindowSize: c.RowAccessWindowSize,
		BatchSize:  c.FlushBatchSize,
	}
}
