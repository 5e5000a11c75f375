// Package recorder はカメラのハンドルを借りてffmpegで動画を記録する
package recorder

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camkeeper/internal/camera"
)

const (
	// stderrLimit は保持するffmpegのエラー出力の上限
	stderrLimit = 4 * 1024

	// stopTimeout は"q"を送ってから終了を待つ時間。過ぎたらkillする
	stopTimeout = 5 * time.Second

	mockSourcePrefix = "mock://"
)

// Config はFFmpegRecorderの設定
type Config struct {
	FPS     int // 入力のフレームレート
	Quality int // 1(低)〜5(高)
}

// FFmpegRecorder はDevice.Sourceのデバイスをffmpegで直接開いて録画するcamera.Recorder
//
// コントローラーがデバイスをUnlockした後にPrepareが呼ばれるため、ffmpegはデバイスを専有できる。
// mock:// のソースはlavfiのテストパターンで代用する。
type FFmpegRecorder struct {
	config Config
	log    *zap.Logger

	mu      sync.Mutex
	args    []string
	path    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	waitErr error
	stderr  *limitedBuffer
}

var _ camera.Recorder = (*FFmpegRecorder)(nil)

// New は新しいFFmpegRecorderを作成する
func New(config Config, logger *zap.Logger) *FFmpegRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FPS <= 0 {
		config.FPS = 15
	}
	return &FFmpegRecorder{
		config: config,
		log:    logger.Named("recorder"),
	}
}

// Prepare は出力先を作成し、ffmpegの引数を組み立てる
func (r *FFmpegRecorder) Prepare(dev camera.Device, spec camera.RecordSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return errors.New("録画中です")
	}
	if spec.Path == "" {
		return errors.New("出力先が指定されていません")
	}
	source := dev.Source()
	if source == "" {
		return errors.New("デバイスが外部から開けません")
	}
	if err := os.MkdirAll(filepath.Dir(spec.Path), 0o755); err != nil {
		return errors.Wrap(err, "出力ディレクトリの作成に失敗")
	}

	r.args = buildArgs(source, spec, r.config)
	r.path = spec.Path
	r.log.Debug("録画を準備しました", zap.String("source", source), zap.String("path", spec.Path))
	return nil
}

// Start はffmpegを起動する
func (r *FFmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.args == nil {
		return errors.New("Prepareが呼ばれていません")
	}
	if r.cmd != nil {
		return errors.New("録画中です")
	}

	cmd := exec.Command("ffmpeg", r.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "stdinパイプの作成に失敗")
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "ffmpegの起動に失敗")
	}

	done := make(chan struct{})
	r.cmd = cmd
	r.stdin = stdin
	r.stderr = stderr
	r.done = done
	r.waitErr = nil

	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		r.waitErr = err
		r.mu.Unlock()
		close(done)
	}()

	r.log.Info("録画を開始しました", zap.String("path", r.path))
	return nil
}

// Stop はffmpegに終了を要求し、ファイルが閉じられるのを待つ
func (r *FFmpegRecorder) Stop() error {
	r.mu.Lock()
	cmd, stdin, done, stderr := r.cmd, r.stdin, r.done, r.stderr
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}

	// "q"でffmpegはコンテナを書き終えてから終了する
	_, _ = io.WriteString(stdin, "q")
	_ = stdin.Close()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		r.log.Warn("ffmpegが終了しないため強制終了します")
		_ = cmd.Process.Kill()
		<-done
	}

	r.mu.Lock()
	err := r.waitErr
	r.cmd, r.stdin, r.done = nil, nil, nil
	r.mu.Unlock()

	if err != nil {
		r.log.Error("ffmpegが異常終了しました", zap.Error(err), zap.String("stderr", stderr.String()))
		return errors.Wrap(err, "録画の終了に失敗")
	}
	r.log.Info("録画を停止しました", zap.String("path", r.path))
	return nil
}

// Reset は実行中のffmpegを止め、状態を破棄する
func (r *FFmpegRecorder) Reset() {
	r.mu.Lock()
	cmd, done := r.cmd, r.done
	r.mu.Unlock()

	if cmd != nil {
		_ = cmd.Process.Kill()
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmd, r.stdin, r.done, r.stderr = nil, nil, nil, nil
	r.args = nil
	r.path = ""
}

// Recording は録画中かを返す
func (r *FFmpegRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// buildArgs はffmpegの引数を組み立てる
func buildArgs(source string, spec camera.RecordSpec, config Config) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "warning"}

	if strings.HasPrefix(source, mockSourcePrefix) {
		size := spec.Size
		if size.IsZero() {
			size = camera.Size{Width: 640, Height: 480}
		}
		args = append(args,
			"-f", "lavfi",
			"-i", "testsrc=size="+size.String()+":rate="+strconv.Itoa(config.FPS),
		)
	} else {
		args = append(args, "-f", "v4l2", "-input_format", "mjpeg")
		if !spec.Size.IsZero() {
			args = append(args, "-video_size", spec.Size.String())
		}
		args = append(args,
			"-framerate", strconv.Itoa(config.FPS),
			"-thread_queue_size", "16",
			"-i", source,
		)
	}

	if filter := rotationFilter(spec.OrientationHint); filter != "" {
		args = append(args, "-vf", filter)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", QualityToCRF(config.Quality),
		"-pix_fmt", "yuv420p",
	)
	if spec.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(spec.MaxDuration.Seconds(), 'f', -1, 64))
	}
	return append(args, spec.Path)
}

func rotationFilter(degrees int) string {
	switch degrees {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// QualityToCRF は品質設定をx264のCRF値に変換する
func QualityToCRF(quality int) string {
	// 品質1(低) -> CRF28, 品質5(高) -> CRF18
	crf := 28.0 - float64(quality-1)*2.5
	if crf < 18 {
		crf = 18
	}
	if crf > 28 {
		crf = 28
	}
	return strconv.FormatFloat(crf, 'f', 1, 64)
}

// ValidateFFmpeg はffmpegが実行できるかを確認する
func ValidateFFmpeg(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, "ffmpeg", "-version").Run(); err != nil {
		return errors.Wrap(err, "ffmpegが見つかりません。インストールしてください")
	}
	return nil
}

// limitedBuffer は先頭limitバイトだけを保持するio.Writer
type limitedBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
