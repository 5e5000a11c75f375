package camera

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// 1フレームの最大サイズ
const maxJPEGFrameSize = 8 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// scanJPEG はMJPEGのバイト列をJPEG1枚ずつに分割するbufio.SplitFunc
func scanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 開始マーカーの1バイト目が末尾にある可能性を残す
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだない
		return start, nil, nil
	}
	end += start + len(jpegSOI) + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	return end, frame, nil
}

// frameStream はffmpegでV4L2デバイスからMJPEGを読み、フレームごとにsinkへ渡す
type frameStream struct {
	devicePath string
	size       Size
	fps        int
	log        *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newFrameStream(devicePath string, size Size, fps int, logger *zap.Logger) *frameStream {
	return &frameStream{
		devicePath: devicePath,
		size:       size,
		fps:        fps,
		log:        logger,
	}
}

func (s *frameStream) command(ctx context.Context) *exec.Cmd {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
	}
	if !s.size.IsZero() {
		args = append(args, "-video_size", s.size.String())
	}
	if s.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(s.fps))
	}
	args = append(args,
		"-i", s.devicePath,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

// Start はffmpegを起動する。sinkは読み取り用のゴルーチンから呼ばれる
func (s *frameStream) Start(sink func(frame []byte)) error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := s.command(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errors.Wrap(err, "stdoutパイプの作成に失敗")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return errors.Wrap(err, "ffmpegの起動に失敗")
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.read(ctx, stdout, sink)
		// キャンセル時のエラーは無視する
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.log.Error("ffmpegが異常終了しました", zap.Error(err), zap.String("stderr", stderr.String()))
		}
	}()

	s.log.Debug("ストリームを開始しました", zap.String("device", s.devicePath), zap.Stringer("size", s.size))
	return nil
}

func (s *frameStream) read(ctx context.Context, r io.Reader, sink func(frame []byte)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxJPEGFrameSize)
	scanner.Split(scanJPEG)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		sink(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Error("フレーム読み取りエラー", zap.Error(err))
	}
}

// Stop はffmpegを止め、読み取りの終了を待つ
func (s *frameStream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.log.Debug("ストリームを停止しました", zap.String("device", s.devicePath))
}
