package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"career-coach/internal/cli/api"
	"career-coach/internal/cli/config"
	"career-coach/pkg/jwt"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "保存访问 Token",
	Long: `保存账号系统签发的访问 Token。

Token 的 Subject 就是用户 ID；保存前会请求一次服务器确认 Token 可用。
不带 --token 时从标准输入读取（终端下不回显）。`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().String("token", "", "访问 Token")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		var err error
		if token, err = readToken(); err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	userID, err := jwt.PeekUserID(token)
	if err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	client := api.NewClient(config.GetServerURL(), token)
	if _, err := client.ListConversations(ctx, userID); err != nil {
		return fmt.Errorf("server rejected the token: %w", err)
	}

	if err := config.SaveAuth(token, userID); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ 登录成功")
	fmt.Fprintf(cmd.OutOrStdout(), "  用户: %s\n", userID)
	fmt.Fprintf(cmd.OutOrStdout(), "  服务器: %s\n", config.GetServerURL())
	return nil
}

// readToken 从终端读取 Token（不回显），非终端时读取一行
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("请输入访问 Token: ")
		data, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return line, nil
}
