// synctl — 转录同步的命令行工具: 离线回放事件日志, 或实时观察一个会话。
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/multi-agent/transcript-sync/internal/config"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

var (
	configFlag string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "synctl",
	Short: "Inspect and replay agent transcript streams",
	Long: `synctl - command line companion of syncd.

Environment:
  CONFIG_FILE   TOML file overriding environment settings
  BACKEND_URL   Agent backend root URL (default: http://127.0.0.1:4096)`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init("development")
		if verbose {
			logger.SetLevel(logger.ParseLevel("DEBUG"))
		} else {
			logger.SetLevel(logger.ParseLevel("WARN"))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"TOML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// loadConfig 读取环境变量 + TOML 文件, --config 优先于 CONFIG_FILE。
func loadConfig() (*config.Config, error) {
	if configFlag == "" {
		return config.LoadWithFile()
	}
	cfg := config.Load()
	cfg.ConfigFile = configFlag
	if err := cfg.ApplyFile(configFlag); err != nil {
		return nil, err
	}
	return cfg, nil
}
