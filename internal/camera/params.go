package camera

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// パラメーターキー
const (
	KeyPreviewSize          = "preview-size"
	KeyPreviewSizeValues    = "preview-size-values"
	KeyPictureSize          = "picture-size"
	KeyPictureSizeValues    = "picture-size-values"
	KeyVideoSizeValues      = "video-size-values"
	KeyPreviewFormat        = "preview-format"
	KeyFocusMode            = "focus-mode"
	KeyFocusModeValues      = "focus-mode-values"
	KeyFlashMode            = "flash-mode"
	KeyFlashModeValues      = "flash-mode-values"
	KeyEffect               = "effect"
	KeyEffectValues         = "effect-values"
	KeySceneMode            = "scene-mode"
	KeySceneModeValues      = "scene-mode-values"
	KeyPreviewFPSRange      = "preview-fps-range"
	KeyPreviewFPSRangeVals  = "preview-fps-range-values"
	KeyExposureCompensation = "exposure-compensation"
	KeyMinExposure          = "min-exposure-compensation"
	KeyMaxExposure          = "max-exposure-compensation"
	KeyExposureStep         = "exposure-compensation-step"
	KeyVideoStabilization   = "video-stabilization"
	KeyVideoStabSupported   = "video-stabilization-supported"
	KeyMaxNumFocusAreas     = "max-num-focus-areas"
	KeyFocusAreas           = "focus-areas"
	KeyMaxNumMeteringAreas  = "max-num-metering-areas"
	KeyMeteringAreas        = "metering-areas"
)

// よく使う値
const (
	FocusModeAuto              = "auto"
	FocusModeContinuousPicture = "continuous-picture"
	FocusModeContinuousVideo   = "continuous-video"
	FocusModeInfinity          = "infinity"
	FocusModeMacro             = "macro"
	FocusModeEDOF              = "edof"

	FlashModeOff   = "off"
	FlashModeOn    = "on"
	FlashModeTorch = "torch"

	EffectNegative   = "negative"
	SceneModeBarcode = "barcode"
)

// FPSRange はプレビューのフレームレート範囲（fps×1000）
type FPSRange struct {
	Min int
	Max int
}

// Parameters はカメラパラメーターのキー/値スナップショット
//
// Flatten/Unflattenで文字列に往復でき、既定値の退避と復元に使う。
type Parameters struct {
	values map[string]string
}

// NewParameters は空のParametersを作成する
func NewParameters() *Parameters {
	return &Parameters{values: make(map[string]string)}
}

// Clone はコピーを返す
func (p *Parameters) Clone() *Parameters {
	c := NewParameters()
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// Get は値を返す。未設定なら空文字
func (p *Parameters) Get(key string) string {
	return p.values[key]
}

// Set は値を設定する。区切り文字を含む値は無視する
func (p *Parameters) Set(key, value string) {
	if strings.ContainsAny(key, "=;") || strings.ContainsAny(value, "=;") {
		return
	}
	p.values[key] = value
}

// Remove はキーを削除する
func (p *Parameters) Remove(key string) {
	delete(p.values, key)
}

// Flatten は "key=value;key=value" 形式の文字列にする（キー順）
func (p *Parameters) Flatten() string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[k])
	}
	return b.String()
}

// Unflatten はFlattenの出力で内容を置き換える
func (p *Parameters) Unflatten(flattened string) error {
	values := make(map[string]string)
	if flattened != "" {
		for _, pair := range strings.Split(flattened, ";") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return errors.Errorf("不正なパラメーター: %q", pair)
			}
			values[k] = v
		}
	}
	p.values = values
	return nil
}

// ParseParameters はFlattenの出力からParametersを作成する
func ParseParameters(flattened string) (*Parameters, error) {
	p := NewParameters()
	if err := p.Unflatten(flattened); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parameters) getList(key string) []string {
	v := p.values[key]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (p *Parameters) getInt(key string) int {
	n, err := strconv.Atoi(p.values[key])
	if err != nil {
		return 0
	}
	return n
}

func (p *Parameters) getSize(key string) (Size, bool) {
	return parseSize(p.values[key])
}

func (p *Parameters) getSizes(key string) []Size {
	var sizes []Size
	for _, s := range p.getList(key) {
		if size, ok := parseSize(s); ok {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

func parseSize(s string) (Size, bool) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Size{}, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return Size{}, false
	}
	return Size{Width: width, Height: height}, true
}

func formatSizes(sizes []Size) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// PreviewSize は現在のプレビューサイズ
func (p *Parameters) PreviewSize() (Size, bool) { return p.getSize(KeyPreviewSize) }

// SetPreviewSize はプレビューサイズを設定する
func (p *Parameters) SetPreviewSize(s Size) { p.Set(KeyPreviewSize, s.String()) }

// SupportedPreviewSizes はサポートされるプレビューサイズ
func (p *Parameters) SupportedPreviewSizes() []Size { return p.getSizes(KeyPreviewSizeValues) }

// SetSupportedPreviewSizes はサポートされるプレビューサイズを設定する（ドライバー用）
func (p *Parameters) SetSupportedPreviewSizes(sizes []Size) {
	p.Set(KeyPreviewSizeValues, formatSizes(sizes))
}

// PictureSize は現在の静止画サイズ
func (p *Parameters) PictureSize() (Size, bool) { return p.getSize(KeyPictureSize) }

// SetPictureSize は静止画サイズを設定する
func (p *Parameters) SetPictureSize(s Size) { p.Set(KeyPictureSize, s.String()) }

// SupportedPictureSizes はサポートされる静止画サイズ
func (p *Parameters) SupportedPictureSizes() []Size { return p.getSizes(KeyPictureSizeValues) }

// SetSupportedPictureSizes はサポートされる静止画サイズを設定する（ドライバー用）
func (p *Parameters) SetSupportedPictureSizes(sizes []Size) {
	p.Set(KeyPictureSizeValues, formatSizes(sizes))
}

// SupportedVideoSizes はサポートされる動画サイズ
func (p *Parameters) SupportedVideoSizes() []Size { return p.getSizes(KeyVideoSizeValues) }

// SetSupportedVideoSizes はサポートされる動画サイズを設定する（ドライバー用）
func (p *Parameters) SetSupportedVideoSizes(sizes []Size) {
	p.Set(KeyVideoSizeValues, formatSizes(sizes))
}

// PreviewFormat はプレビューフレームの画素フォーマット
func (p *Parameters) PreviewFormat() PixelFormat { return PixelFormat(p.Get(KeyPreviewFormat)) }

// SetPreviewFormat はプレビューフレームの画素フォーマットを設定する
func (p *Parameters) SetPreviewFormat(f PixelFormat) { p.Set(KeyPreviewFormat, string(f)) }

// FocusMode は現在のフォーカスモード
func (p *Parameters) FocusMode() string { return p.Get(KeyFocusMode) }

// SupportedFocusModes はサポートされるフォーカスモード
func (p *Parameters) SupportedFocusModes() []string { return p.getList(KeyFocusModeValues) }

// FlashMode は現在のフラッシュモード
func (p *Parameters) FlashMode() string { return p.Get(KeyFlashMode) }

// SupportedFlashModes はサポートされるフラッシュモード
func (p *Parameters) SupportedFlashModes() []string { return p.getList(KeyFlashModeValues) }

// ColorEffect は現在のカラーエフェクト
func (p *Parameters) ColorEffect() string { return p.Get(KeyEffect) }

// SupportedColorEffects はサポートされるカラーエフェクト
func (p *Parameters) SupportedColorEffects() []string { return p.getList(KeyEffectValues) }

// SceneMode は現在のシーンモード
func (p *Parameters) SceneMode() string { return p.Get(KeySceneMode) }

// SupportedSceneModes はサポートされるシーンモード
func (p *Parameters) SupportedSceneModes() []string { return p.getList(KeySceneModeValues) }

// PreviewFPSRange は現在のフレームレート範囲
func (p *Parameters) PreviewFPSRange() (FPSRange, bool) {
	ranges := parseFPSRanges(p.Get(KeyPreviewFPSRange))
	if len(ranges) == 0 {
		return FPSRange{}, false
	}
	return ranges[0], true
}

// SetPreviewFPSRange はフレームレート範囲を設定する
func (p *Parameters) SetPreviewFPSRange(r FPSRange) {
	p.Set(KeyPreviewFPSRange, fmt.Sprintf("%d,%d", r.Min, r.Max))
}

// SupportedPreviewFPSRanges はサポートされるフレームレート範囲
func (p *Parameters) SupportedPreviewFPSRanges() []FPSRange {
	return parseFPSRanges(p.Get(KeyPreviewFPSRangeVals))
}

// parseFPSRanges は "(a,b),(c,d)" または "a,b" を解析する
func parseFPSRanges(s string) []FPSRange {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "(") {
		s = "(" + s + ")"
	}

	var ranges []FPSRange
	for _, part := range strings.Split(s, "),") {
		part = strings.Trim(part, "() ")
		lo, hi, ok := strings.Cut(part, ",")
		if !ok {
			continue
		}
		minFPS, err1 := strconv.Atoi(strings.TrimSpace(lo))
		maxFPS, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			continue
		}
		ranges = append(ranges, FPSRange{Min: minFPS, Max: maxFPS})
	}
	return ranges
}

// ExposureCompensation は現在の露出補正ステップ数
func (p *Parameters) ExposureCompensation() int { return p.getInt(KeyExposureCompensation) }

// SetExposureCompensation は露出補正ステップ数を設定する
func (p *Parameters) SetExposureCompensation(v int) {
	p.Set(KeyExposureCompensation, strconv.Itoa(v))
}

// ExposureRange は露出補正の最小・最大ステップ数とステップ幅を返す
func (p *Parameters) ExposureRange() (minSteps, maxSteps int, step float64) {
	step, _ = strconv.ParseFloat(p.Get(KeyExposureStep), 64)
	return p.getInt(KeyMinExposure), p.getInt(KeyMaxExposure), step
}

// VideoStabilizationSupported は手ぶれ補正に対応しているか
func (p *Parameters) VideoStabilizationSupported() bool {
	return p.Get(KeyVideoStabSupported) == "true"
}

// MaxNumFocusAreas はフォーカスエリアの最大数
func (p *Parameters) MaxNumFocusAreas() int { return p.getInt(KeyMaxNumFocusAreas) }

// MaxNumMeteringAreas は測光エリアの最大数
func (p *Parameters) MaxNumMeteringAreas() int { return p.getInt(KeyMaxNumMeteringAreas) }
