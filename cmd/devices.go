package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "利用できるカメラを一覧する",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runDevices(ctx)
		},
	}
}

func runDevices(ctx context.Context) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	driver := newDriver(cfg, log)
	n, err := driver.NumCameras(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("カメラが見つかりません")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACING\tORIENTATION")
	for id := 0; id < n; id++ {
		info, err := driver.Info(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%d\t(エラー: %v)\t\t\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", id, info.Name, info.Facing, info.Orientation)
	}
	return w.Flush()
}
