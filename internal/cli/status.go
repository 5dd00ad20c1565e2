package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"career-coach/internal/cli/api"
	"career-coach/internal/cli/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前状态",
	Long: `显示当前登录状态和配置信息。

包括：
- 服务器地址和连通性
- 登录状态
- 配置文件位置`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Career Coach 状态")
	fmt.Fprintln(out, "─────────────────────────────────")

	server := config.GetServerURL()
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := api.NewClient(server, "").Health(ctx); err != nil {
		fmt.Fprintf(out, "  服务器: %s (✗ 不可用: %v)\n", server, err)
	} else {
		fmt.Fprintf(out, "  服务器: %s (✓ 在线)\n", server)
	}

	if config.IsLoggedIn() {
		fmt.Fprintln(out, "  登录状态: ✓ 已登录")
		fmt.Fprintf(out, "  用户 ID: %s\n", config.GetUserID())
	} else {
		fmt.Fprintln(out, "  登录状态: ✗ 未登录")
		fmt.Fprintln(out, "  请运行 'coach login' 完成登录")
	}
	fmt.Fprintf(out, "  配置文件: %s\n", config.Path())
	return nil
}
