package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"career-coach/internal/cli/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "清除本地凭证",
	Long: `清除本地保存的访问 Token 和用户 ID。

登出后需要重新运行 'coach login' 才能使用。`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	if config.GetAccessToken() == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "当前未登录")
		return nil
	}

	if err := config.ClearAuth(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ 已登出并清除本地凭证")
	return nil
}
