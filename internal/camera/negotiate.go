package camera

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

const (
	// 露出補正の目標値（EV）
	minExposureCompensation = 0.0
	maxExposureCompensation = 1.5

	// setBestPreviewFPS が選ぶ範囲（fps）
	minFPS = 10
	maxFPS = 20

	// フォーカス/測光エリア（-1000..1000座標系で中央の±400）
	areaPer1000 = 400
)

// findSettableValue はsupportedに含まれる最初の候補を返す
func findSettableValue(log *zap.Logger, name string, supported []string, desired ...string) (string, bool) {
	if len(supported) > 0 {
		for _, want := range desired {
			for _, s := range supported {
				if s == want {
					log.Debug("設定可能な値が見つかりました", zap.String("parameter", name), zap.String("value", want))
					return want, true
				}
			}
		}
	}
	log.Debug("設定可能な値がありません", zap.String("parameter", name), zap.Strings("supported", supported))
	return "", false
}

func setFocus(log *zap.Logger, p *Parameters, mode FocusMode, safeMode bool) {
	supported := p.SupportedFocusModes()

	var value string
	var ok bool
	switch {
	case safeMode || mode == FocusAuto:
		value, ok = findSettableValue(log, "focus mode", supported, FocusModeAuto)
	case mode == FocusContinuous:
		value, ok = findSettableValue(log, "focus mode", supported, FocusModeContinuousPicture, FocusModeContinuousVideo, FocusModeAuto)
	case mode == FocusInfinity:
		value, ok = findSettableValue(log, "focus mode", supported, FocusModeInfinity)
	case mode == FocusMacro:
		value, ok = findSettableValue(log, "focus mode", supported, FocusModeMacro)
	}

	// オートフォーカスを選んだが使えない場合
	if !safeMode && !ok {
		value, ok = findSettableValue(log, "focus mode", supported, FocusModeMacro, FocusModeEDOF)
	}

	if ok && value != p.FocusMode() {
		p.Set(KeyFocusMode, value)
	}
}

func setTorch(log *zap.Logger, p *Parameters, on bool) {
	supported := p.SupportedFlashModes()

	var value string
	var ok bool
	if on {
		value, ok = findSettableValue(log, "flash mode", supported, FlashModeTorch, FlashModeOn)
	} else {
		value, ok = findSettableValue(log, "flash mode", supported, FlashModeOff)
	}

	if ok && value != p.FlashMode() {
		p.Set(KeyFlashMode, value)
	}
}

func setBestExposure(log *zap.Logger, p *Parameters, lightOn bool) {
	minSteps, maxSteps, step := p.ExposureRange()
	if (minSteps == 0 && maxSteps == 0) || step <= 0 {
		log.Debug("露出補正に対応していません")
		return
	}

	target := maxExposureCompensation
	if lightOn {
		target = minExposureCompensation
	}
	steps := int(math.Round(target / step))
	if steps > maxSteps {
		steps = maxSteps
	}
	if steps < minSteps {
		steps = minSteps
	}

	if p.ExposureCompensation() != steps {
		log.Debug("露出補正を設定します", zap.Int("steps", steps), zap.Float64("step", step))
		p.SetExposureCompensation(steps)
	}
}

func setInvertColor(log *zap.Logger, p *Parameters) {
	if p.ColorEffect() == EffectNegative {
		return
	}
	if value, ok := findSettableValue(log, "color effect", p.SupportedColorEffects(), EffectNegative); ok {
		p.Set(KeyEffect, value)
	}
}

func setBarcodeSceneMode(log *zap.Logger, p *Parameters) {
	if p.SceneMode() == SceneModeBarcode {
		return
	}
	if value, ok := findSettableValue(log, "scene mode", p.SupportedSceneModes(), SceneModeBarcode); ok {
		p.Set(KeySceneMode, value)
	}
}

func setVideoStabilization(log *zap.Logger, p *Parameters) {
	if !p.VideoStabilizationSupported() {
		log.Debug("手ぶれ補正に対応していません")
		return
	}
	p.Set(KeyVideoStabilization, "true")
}

func middleArea() string {
	return fmt.Sprintf("(%d,%d,%d,%d,1)", -areaPer1000, -areaPer1000, areaPer1000, areaPer1000)
}

func setFocusArea(log *zap.Logger, p *Parameters) {
	if p.MaxNumFocusAreas() <= 0 {
		log.Debug("フォーカスエリアに対応していません")
		return
	}
	p.Set(KeyFocusAreas, middleArea())
}

func setMetering(log *zap.Logger, p *Parameters) {
	if p.MaxNumMeteringAreas() <= 0 {
		log.Debug("測光エリアに対応していません")
		return
	}
	p.Set(KeyMeteringAreas, middleArea())
}

// setBestPreviewFPS は minFPS〜maxFPS に収まる最も広い範囲を選ぶ
func setBestPreviewFPS(log *zap.Logger, p *Parameters) {
	var best FPSRange
	found := false
	for _, r := range p.SupportedPreviewFPSRanges() {
		if r.Min >= minFPS*1000 && r.Max <= maxFPS*1000 {
			if !found || r.Max-r.Min > best.Max-best.Min {
				best = r
				found = true
			}
		}
	}
	if !found {
		log.Debug("適切なフレームレート範囲がありません")
		return
	}

	if current, ok := p.PreviewFPSRange(); ok && current == best {
		return
	}
	p.SetPreviewFPSRange(best)
}
