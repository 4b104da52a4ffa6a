package streamsheet

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestDefaultConfig(t *testing.T) {
	c := qt.New(t)

	cfg := DefaultConfig()
	c.Assert(cfg.Validate(), qt.IsNil)
	c.Assert(cfg.RowAccessWindowSize, qt.Equals, 100)
	c.Assert(cfg.FlushBatchSize, qt.Equals, 100)
	c.Assert(cfg.PreventFormulaInjection, qt.IsTrue)
	c.Assert(cfg.FailurePolicy, qt.Equals, PolicyAbort)
	c.Assert(cfg.CancelPolicy, qt.Equals, CancelDiscard)
	c.Assert(cfg.RowLimit(), qt.Equals, int64(MaxDataRows))
}

func TestPresets(t *testing.T) {
	c := qt.New(t)

	for _, name := range []string{"", "default", "high-performance", "security_hardened", "HIGH_QUALITY"} {
		cfg, err := Preset(name)
		c.Assert(err, qt.IsNil, qt.Commentf("preset %q", name))
		c.Assert(cfg.Validate(), qt.IsNil)
		c.Assert(cfg.PreventFormulaInjection, qt.IsTrue)
	}

	c.Assert(HighPerformanceConfig().RowAccessWindowSize < DefaultConfig().RowAccessWindowSize, qt.IsTrue)
	c.Assert(HighQualityConfig().RowAccessWindowSize > DefaultConfig().RowAccessWindowSize, qt.IsTrue)

	_, err := Preset("turbo")
	c.Assert(err, qt.ErrorIs, ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero window", func(c *Config) { c.RowAccessWindowSize = 0 }, "row_access_window_size"},
		{"negative flush", func(c *Config) { c.FlushBatchSize = -1 }, "flush_batch_size"},
		{"negative max rows", func(c *Config) { c.MaxRows = -5 }, "max_rows"},
		{"bad failure policy", func(c *Config) { c.FailurePolicy = "retry" }, "failure_policy"},
		{"bad cancel policy", func(c *Config) { c.CancelPolicy = "pause" }, "cancel_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			var cerr *ConfigError
			c.Assert(errors.As(err, &cerr), qt.IsTrue)
			c.Assert(cerr.Field, qt.Equals, tt.field)
			c.Assert(err, qt.ErrorIs, ErrInvalidConfig)
		})
	}
}

func TestEmptyPoliciesDefault(t *testing.T) {
	c := qt.New(t)

	cfg := Config{RowAccessWindowSize: 1, FlushBatchSize: 1}
	c.Assert(cfg.Validate(), qt.IsNil)
	c.Assert(cfg.failurePolicy(), qt.Equals, PolicyAbort)
	c.Assert(cfg.cancelPolicy(), qt.Equals, CancelDiscard)
}

func TestEffectiveFlushBatchSizeIsClamped(t *testing.T) {
	c := qt.New(t)

	cfg := DefaultConfig()
	cfg.RowAccessWindowSize = 50
	cfg.FlushBatchSize = 500
	c.Assert(cfg.Validate(), qt.IsNil)
	c.Assert(cfg.EffectiveFlushBatchSize(), qt.Equals, 50)
}

func TestRowLimit(t *testing.T) {
	c := qt.New(t)

	cfg := DefaultConfig()
	cfg.MaxRows = 10
	c.Assert(cfg.RowLimit(), qt.Equals, int64(10))
	cfg.MaxRows = MaxDataRows + 10
	c.Assert(cfg.RowLimit(), qt.Equals, int64(MaxDataRows))
}

func TestParsePolicies(t *testing.T) {
	c := qt.New(t)

	p, err := ParseFailurePolicy(" Skip ")
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.Equals, PolicySkip)

	p, err = ParseFailurePolicy("blank")
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.Equals, PolicySubstituteBlank)

	_, err = ParseFailurePolicy("ignore")
	c.Assert(err, qt.ErrorMatches, `unknown failure policy "ignore"`)

	cp, err := ParseCancelPolicy("FLUSH")
	c.Assert(err, qt.IsNil)
	c.Assert(cp, qt.Equals, CancelFlush)
}

func TestPhaseString(t *testing.T) {
	c := qt.New(t)
	c.Assert(PhaseFlushedBatch.String(), qt.Equals, "flushed_batch")
	c.Assert(PhaseCompleted.Terminal(), qt.IsTrue)
	c.Assert(PhaseStarting.Terminal(), qt.IsFalse)
}
