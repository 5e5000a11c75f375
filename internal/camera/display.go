package camera

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// aspectTolerance 以内のアスペクト比の差は同じ比とみなす
const aspectTolerance = 0.01

// DisplayRotation は表示面の回転（90度単位）
type DisplayRotation int

const (
	Rotation0 DisplayRotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// Degrees は回転を角度で返す
func (r DisplayRotation) Degrees() int {
	return (int(r) & 3) * 90
}

// RotationFromDegrees は角度からDisplayRotationを得る
func RotationFromDegrees(degrees int) (DisplayRotation, error) {
	switch degrees {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return Rotation0, errors.Errorf("無効な表示回転: %d", degrees)
	}
}

// ScalingStrategy は候補サイズから表示に最も合うものを選ぶ
type ScalingStrategy interface {
	Select(candidates []Size, desired Size) (Size, bool)
}

// DisplayConfiguration は表示先のサイズと回転を保持する
type DisplayConfiguration struct {
	Viewport Size
	Rotation DisplayRotation
	Strategy ScalingStrategy // nilならFitCenterStrategy
}

// NewDisplayConfiguration は既定の選択方式でDisplayConfigurationを作成する
func NewDisplayConfiguration(viewport Size, rotation DisplayRotation) *DisplayConfiguration {
	return &DisplayConfiguration{
		Viewport: viewport,
		Rotation: rotation,
		Strategy: FitCenterStrategy{},
	}
}

// DesiredPreviewSize はカメラ本来の向きでの希望サイズを返す
func (d *DisplayConfiguration) DesiredPreviewSize(rotated bool) Size {
	if rotated {
		return d.Viewport.Rotate()
	}
	return d.Viewport
}

// BestPreviewSize は候補の中から表示に最も合うサイズを選ぶ
//
// rotatedはカメラが表示に対して90度傾いているかどうか。候補が空ならfalseを返す。
func (d *DisplayConfiguration) BestPreviewSize(candidates []Size, rotated bool) (Size, bool) {
	strategy := d.Strategy
	if strategy == nil {
		strategy = FitCenterStrategy{}
	}
	return strategy.Select(candidates, d.DesiredPreviewSize(rotated))
}

// FitCenterStrategy はアスペクト比が最も近い候補のうち、表示に収まる最大のものを選ぶ
//
// 収まるものがなければ同じ比の中で最小のものを選ぶ。
type FitCenterStrategy struct{}

// Select は候補から1つ選ぶ
func (FitCenterStrategy) Select(candidates []Size, desired Size) (Size, bool) {
	valid := validSizes(candidates)
	if len(valid) == 0 {
		return Size{}, false
	}
	if desired.IsZero() {
		return largest(valid), true
	}

	target := desired.AspectRatio()
	bestDiff := math.Inf(1)
	for _, c := range valid {
		if diff := math.Abs(c.AspectRatio() - target); diff < bestDiff {
			bestDiff = diff
		}
	}

	var group []Size
	for _, c := range valid {
		if math.Abs(c.AspectRatio()-target) <= bestDiff+aspectTolerance {
			group = append(group, c)
		}
	}

	var fitting []Size
	for _, c := range group {
		if c.FitsIn(desired) {
			fitting = append(fitting, c)
		}
	}
	if len(fitting) > 0 {
		return largest(fitting), true
	}
	return smallest(group), true
}

// CenterCropStrategy は表示全体を覆う最小の候補を選ぶ。覆えるものがなければ最大の候補
type CenterCropStrategy struct{}

// Select は候補から1つ選ぶ
func (CenterCropStrategy) Select(candidates []Size, desired Size) (Size, bool) {
	valid := validSizes(candidates)
	if len(valid) == 0 {
		return Size{}, false
	}

	var covering []Size
	for _, c := range valid {
		if desired.FitsIn(c) {
			covering = append(covering, c)
		}
	}
	if len(covering) > 0 {
		return smallest(covering), true
	}
	return largest(valid), true
}

func validSizes(candidates []Size) []Size {
	valid := make([]Size, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsZero() {
			valid = append(valid, c)
		}
	}
	// 同じ面積なら幅の大きい順で安定させる
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Area() != valid[j].Area() {
			return valid[i].Area() > valid[j].Area()
		}
		return valid[i].Width > valid[j].Width
	})
	return valid
}

func largest(sizes []Size) Size {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best
}

func smallest(sizes []Size) Size {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() < best.Area() {
			best = s
		}
	}
	return best
}
