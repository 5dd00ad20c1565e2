// Package cli 实现 coach 命令行客户端
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"career-coach/internal/cli/api"
	"career-coach/internal/cli/config"
	"career-coach/pkg/logger"
)

// errNotLoggedIn 未登录
var errNotLoggedIn = errors.New("not logged in, run 'coach login' first")

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Career Coach - 终端里的职业规划助手",
	Long: `Career Coach CLI 客户端

在终端里和职业规划助手对话，对话记录保存在服务器上，
可以在其他设备上继续。

运行 'coach login' 保存访问 Token，然后运行 'coach chat' 开始对话。`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: http://localhost:8080)")
	rootCmd.PersistentFlags().String("config-dir", "", "配置目录 (默认: ~/.career-coach)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "输出调试日志到 stderr")
}

func initConfig() {
	dir, _ := rootCmd.PersistentFlags().GetString("config-dir")
	if err := config.Init(dir); err != nil {
		fmt.Fprintf(os.Stderr, "✗ 初始化配置失败: %v\n", err)
		os.Exit(1)
	}

	// 如果指定了服务器地址，更新配置
	if server, _ := rootCmd.PersistentFlags().GetString("server"); server != "" {
		config.SetServerURL(server)
	}
}

// newAPIClient 创建已登录的 API 客户端
func newAPIClient() (*api.Client, string, error) {
	if !config.IsLoggedIn() {
		return nil, "", errNotLoggedIn
	}
	return api.NewClient(config.GetServerURL(), config.GetAccessToken()), config.GetUserID(), nil
}

// newLogger --verbose 时输出调试日志，否则不输出
func newLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	log, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return log
}
