// Package imaging はカメラのフレームをJPEGに変換する
package imaging

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"

	"camkeeper/internal/camera"
)

// Options はJPEG変換の指定
type Options struct {
	Quality int         // 1(低)〜5(高)。0なら3
	Rotate  bool        // SourceData.Rotationに従って表示の向きへ回す
	Bounds  camera.Size // この中に収まるよう縮小する。ゼロなら元のサイズ
}

// EncodeJPEG はフレームをJPEGにする
//
// 変換の必要がないJPEG/MJPGフレームはそのまま返す。
func EncodeJPEG(src *camera.SourceData, opts Options) ([]byte, error) {
	if src == nil {
		return nil, errors.New("フレームがありません")
	}
	compressed := src.Format == camera.FormatJPEG || src.Format == camera.FormatMJPG
	needsRotate := opts.Rotate && src.Rotation != 0
	needsResize := !opts.Bounds.IsZero() && !src.Size().FitsIn(opts.Bounds)
	if compressed && !needsRotate && !needsResize {
		return src.Data, nil
	}

	img, err := Decode(src)
	if err != nil {
		return nil, err
	}
	if needsRotate {
		img = Rotate(img, src.Rotation)
	}
	if !opts.Bounds.IsZero() {
		img = Fit(img, opts.Bounds)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = 3
	}
	var buf bytes.Buffer
	// 1-5 を 20-100 に変換
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality * 20}); err != nil {
		return nil, errors.Wrap(err, "JPEGエンコードに失敗")
	}
	return buf.Bytes(), nil
}

// Decode はフレームを画像にする
func Decode(src *camera.SourceData) (image.Image, error) {
	switch src.Format {
	case camera.FormatJPEG, camera.FormatMJPG:
		img, err := jpeg.Decode(bytes.NewReader(src.Data))
		if err != nil {
			return nil, errors.Wrap(err, "JPEGデコードに失敗")
		}
		return img, nil
	case camera.FormatNV21:
		return decodeNV21(src.Data, src.Width, src.Height)
	case camera.FormatYUYV:
		return decodeYUYV(src.Data, src.Width, src.Height)
	default:
		return nil, errors.Errorf("対応していないフォーマット: %s", src.Format)
	}
}

// decodeNV21 はYプレーンとVU交互のプレーンからなるNV21を変換する
func decodeNV21(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height*3/2 {
		return nil, errors.Errorf("NV21のデータ長が不足しています: %d", len(data))
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:width*height])

	vu := data[width*height:]
	cw, ch := (width+1)/2, (height+1)/2
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := y*width + x*2
			if i+1 >= len(vu) {
				continue
			}
			o := y*img.CStride + x
			img.Cr[o] = vu[i]
			img.Cb[o] = vu[i+1]
		}
	}
	return img, nil
}

// decodeYUYV はY0 U Y1 Vの並びのYUYVを変換する
func decodeYUYV(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height*2 {
		return nil, errors.Errorf("YUYVのデータ長が不足しています: %d", len(data))
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*width*2:]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			if x+1 < width {
				img.Y[y*img.YStride+x+1] = row[i+2]
			}
			o := y*img.CStride + x/2
			img.Cb[o] = row[i+1]
			img.Cr[o] = row[i+3]
		}
	}
	return img, nil
}

// Rotate は画像を時計回りにdegrees度回す（90度単位）
func Rotate(src image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if degrees == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.At(b.Min.X+x, b.Min.Y+y)
			switch degrees {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

// Fit はアスペクト比を保ったままboundsに収まるよう縮小する。収まっていればそのまま返す
func Fit(src image.Image, bounds camera.Size) image.Image {
	b := src.Bounds()
	size := camera.Size{Width: b.Dx(), Height: b.Dy()}
	if bounds.IsZero() || size.FitsIn(bounds) {
		return src
	}

	w, h := bounds.Width, size.Height*bounds.Width/size.Width
	if h > bounds.Height {
		w, h = size.Width*bounds.Height/size.Height, bounds.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	drawScaled(dst, src)
	return dst
}

// drawScaled はニアレストネイバー法でsrcをdst全体に描画する
func drawScaled(dst *image.RGBA, src image.Image) {
	sb := src.Bounds()
	srcWidth, srcHeight := sb.Dx(), sb.Dy()
	db := dst.Bounds()

	for y := 0; y < db.Dy(); y++ {
		for x := 0; x < db.Dx(); x++ {
			srcX := x * srcWidth / db.Dx()
			srcY := y * srcHeight / db.Dy()
			dst.Set(x, y, src.At(sb.Min.X+srcX, sb.Min.Y+srcY))
		}
	}
}
