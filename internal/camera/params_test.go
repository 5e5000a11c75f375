package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParameters_FlattenUnflatten(t *testing.T) {
	p := NewParameters()
	p.SetPreviewSize(Size{640, 480})
	p.Set(KeyFocusMode, FocusModeAuto)
	p.SetSupportedPreviewSizes([]Size{{640, 480}, {1280, 720}})

	flat := p.Flatten()
	assert.Equal(t, "focus-mode=auto;preview-size=640x480;preview-size-values=640x480,1280x720", flat)

	q, err := ParseParameters(flat)
	require.NoError(t, err)
	assert.Equal(t, flat, q.Flatten())

	// Unflattenは内容を置き換える
	q.Set(KeyEffect, EffectNegative)
	require.NoError(t, q.Unflatten(flat))
	assert.Empty(t, q.ColorEffect())

	_, err = ParseParameters("broken")
	assert.Error(t, err)
}

func TestParameters_SetRejectsDelimiters(t *testing.T) {
	p := NewParameters()
	p.Set("key", "a;b")
	p.Set("k=v", "x")
	assert.Empty(t, p.Flatten())
}

func TestParameters_Accessors(t *testing.T) {
	p := DefaultMockParameters()

	assert.Equal(t, []Size{{640, 480}, {800, 600}, {1280, 720}}, p.SupportedPreviewSizes())
	assert.Equal(t, FormatNV21, p.PreviewFormat())
	assert.Equal(t, []string{"off", "on", "torch"}, p.SupportedFlashModes())

	ranges := p.SupportedPreviewFPSRanges()
	assert.Equal(t, []FPSRange{{7000, 30000}, {10000, 20000}, {15000, 15000}}, ranges)

	minSteps, maxSteps, step := p.ExposureRange()
	assert.Equal(t, -4, minSteps)
	assert.Equal(t, 4, maxSteps)
	assert.InDelta(t, 0.5, step, 1e-9)
	assert.True(t, p.VideoStabilizationSupported())

	clone := p.Clone()
	clone.Set(KeyFlashMode, FlashModeTorch)
	assert.Equal(t, FlashModeOff, p.FlashMode())
}

func TestNegotiate(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("focus fallback to macro", func(t *testing.T) {
		p := NewParameters()
		p.Set(KeyFocusModeValues, "macro,fixed")
		setFocus(log, p, FocusAuto, false)
		assert.Equal(t, FocusModeMacro, p.FocusMode())
	})

	t.Run("safe mode never falls back", func(t *testing.T) {
		p := NewParameters()
		p.Set(KeyFocusModeValues, "macro,fixed")
		setFocus(log, p, FocusContinuous, true)
		assert.Empty(t, p.FocusMode())
	})

	t.Run("torch prefers torch over on", func(t *testing.T) {
		p := NewParameters()
		p.Set(KeyFlashModeValues, "off,on,torch")
		setTorch(log, p, true)
		assert.Equal(t, FlashModeTorch, p.FlashMode())
	})

	t.Run("torch unsupported", func(t *testing.T) {
		p := NewParameters()
		setTorch(log, p, true)
		assert.Empty(t, p.FlashMode())
	})

	t.Run("exposure clamps to range", func(t *testing.T) {
		p := NewParameters()
		p.Set(KeyMinExposure, "-2")
		p.Set(KeyMaxExposure, "2")
		p.Set(KeyExposureStep, "0.5")
		setBestExposure(log, p, false)
		assert.Equal(t, 2, p.ExposureCompensation())
	})

	t.Run("metering unsupported", func(t *testing.T) {
		p := NewParameters()
		setMetering(log, p)
		setFocusArea(log, p)
		setVideoStabilization(log, p)
		assert.Empty(t, p.Flatten())
	})

	t.Run("fps range outside bounds", func(t *testing.T) {
		p := NewParameters()
		p.Set(KeyPreviewFPSRangeVals, "(15000,30000)")
		setBestPreviewFPS(log, p)
		_, ok := p.PreviewFPSRange()
		assert.False(t, ok)
	})
}
