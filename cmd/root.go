// Package cmd はcamkeeperのコマンドラインを実装する
package cmd

import (
	"github.com/spf13/cobra"

	"camkeeper/internal/config"
)

var (
	configPath string
	envFiles   []string

	// cfg はPersistentPreRunEで読み込んだ設定
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "camkeeper",
		Short: "カメラを1つのワーカースレッドで管理するサーバー",
		Long: `camkeeperは、排他的なカメラを専用のワーカースレッドで開閉・設定し、
プレビューフレームや静止画、録画をHTTPで提供します。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFiles...); err != nil {
				return err
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

// Execute はルートコマンドを実行する
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "設定ファイル (デフォルト: ./config.yaml か $XDG_CONFIG_HOME/camkeeper/config.yaml)")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "読み込む.envファイル")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newConfigCmd())
}
