package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"camkeeper/internal/imaging"
)

func newSnapshotCmd() *cobra.Command {
	var (
		out     string
		picture bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "カメラを開いて1枚撮影する",
		Example: `  camkeeper snapshot --out frame.jpg
  camkeeper snapshot --picture --out - > picture.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return runSnapshot(ctx, out, picture)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "snapshot.jpg", "出力先。-なら標準出力")
	flags.BoolVar(&picture, "picture", false, "プレビューフレームではなく静止画を撮影する")
	flags.DurationVar(&timeout, "timeout", 15*time.Second, "全体の待ち時間")
	return cmd
}

func runSnapshot(ctx context.Context, out string, picture bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.log.Error("カメラの解放に失敗しました", zap.Error(err))
		}
	}()

	if err := a.host.Start(); err != nil {
		return err
	}

	var data []byte
	if picture {
		src, err := a.host.Picture(ctx)
		if err != nil {
			return err
		}
		data, err = imaging.EncodeJPEG(src, imaging.Options{Rotate: true})
		if err != nil {
			return err
		}
	} else {
		data, err = a.host.Snapshot(ctx)
		if err != nil {
			return err
		}
	}

	if out == "-" {
		_, err = os.Stdout.Write(data)
		return errors.Wrap(err, "書き込みに失敗")
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return errors.Wrap(err, "書き込みに失敗")
	}
	fmt.Fprintf(os.Stderr, "%s に保存しました (%d bytes)\n", out, len(data))
	return nil
}
