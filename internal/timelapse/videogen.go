package timelapse

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camkeeper/internal/recorder"
)

// videoWriter はフレームを動画に追記するもの
type videoWriter interface {
	ExtendVideo(ctx context.Context, videoPath string, frames []Frame, quality int) error
}

// VideoGenerator はffmpegで動画を生成・延長する
type VideoGenerator struct {
	tempDir string
	log     *zap.Logger
	run     func(ctx context.Context, args ...string) ([]byte, error)
}

// NewVideoGenerator は新しいVideoGeneratorを作成する
func NewVideoGenerator(logger *zap.Logger) *VideoGenerator {
	return &VideoGenerator{
		tempDir: filepath.Join(os.TempDir(), "camkeeper-timelapse"),
		log:     logger,
		run: func(ctx context.Context, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
		},
	}
}

// ExtendVideo は既存の動画にフレームを追加して延長する。動画がなければ作る
func (vg *VideoGenerator) ExtendVideo(ctx context.Context, videoPath string, frames []Frame, quality int) error {
	if len(frames) == 0 {
		return nil
	}

	sessionDir := filepath.Join(vg.tempDir, fmt.Sprintf("session_%d", time.Now().UnixNano()))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return errors.Wrap(err, "一時ディレクトリの作成に失敗")
	}
	defer func() {
		_ = os.RemoveAll(sessionDir)
	}()

	imageFiles, err := saveFramesAsImages(sessionDir, frames)
	if err != nil {
		return err
	}

	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return vg.createVideo(ctx, videoPath, imageFiles, quality)
	}
	return vg.appendToVideo(ctx, videoPath, imageFiles, quality)
}

func saveFramesAsImages(dir string, frames []Frame) ([]string, error) {
	imageFiles := make([]string, 0, len(frames))
	for i, frame := range frames {
		if len(frame.Data) == 0 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
			return nil, errors.Wrapf(err, "フレーム画像の保存に失敗 (%s)", path)
		}
		imageFiles = append(imageFiles, path)
	}
	return imageFiles, nil
}

func (vg *VideoGenerator) createVideo(ctx context.Context, videoPath string, imageFiles []string, quality int) error {
	if len(imageFiles) == 0 {
		return errors.New("画像ファイルがありません")
	}

	listFile := filepath.Join(filepath.Dir(imageFiles[0]), "images.txt")
	if err := os.WriteFile(listFile, []byte(imageList(imageFiles)), 0o644); err != nil {
		return errors.Wrap(err, "画像リストの作成に失敗")
	}

	output, err := vg.run(ctx, createArgs(listFile, videoPath, quality)...)
	if err != nil {
		return errors.Wrapf(err, "動画の作成に失敗 (output: %s)", output)
	}
	vg.log.Debug("動画を作成しました", zap.String("path", videoPath), zap.Int("frames", len(imageFiles)))
	return nil
}

func (vg *VideoGenerator) appendToVideo(ctx context.Context, videoPath string, imageFiles []string, quality int) error {
	tempVideoPath := videoPath + ".part.mp4"
	if err := vg.createVideo(ctx, tempVideoPath, imageFiles, quality); err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tempVideoPath)
	}()

	listFile := videoPath + ".concat.txt"
	content := fmt.Sprintf("file '%s'\nfile '%s'\n", videoPath, tempVideoPath)
	if err := os.WriteFile(listFile, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "結合リストの作成に失敗")
	}
	defer func() {
		_ = os.Remove(listFile)
	}()

	outputPath := videoPath + ".new.mp4"
	output, err := vg.run(ctx, "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", "-y", outputPath)
	if err != nil {
		return errors.Wrapf(err, "動画の結合に失敗 (output: %s)", output)
	}
	if err := os.Rename(outputPath, videoPath); err != nil {
		return errors.Wrap(err, "ファイルの置き換えに失敗")
	}
	return nil
}

// imageList はffmpegのconcat用リストを作る。各フレームは30fpsの1コマ分表示する
func imageList(imageFiles []string) string {
	var b strings.Builder
	for _, f := range imageFiles {
		fmt.Fprintf(&b, "file '%s'\nduration 0.033\n", f)
	}
	// 最後のフレームは追加の表示時間なし
	if len(imageFiles) > 0 {
		fmt.Fprintf(&b, "file '%s'\n", imageFiles[len(imageFiles)-1])
	}
	return b.String()
}

func createArgs(listFile, videoPath string, quality int) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-r", "30",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", recorder.QualityToCRF(quality),
		"-pix_fmt", "yuv420p",
		"-y",
		videoPath,
	}
}
