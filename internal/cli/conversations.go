package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"career-coach/internal/chat"
	"career-coach/internal/cli/config"
	"career-coach/internal/cli/websocket"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "管理保存在服务器上的会话",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出会话，最近更新的在前",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, userID, err := newAPIClient()
		if err != nil {
			return err
		}
		return listConversations(cmd.Context(), cmd.OutOrStdout(), client, userID)
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "显示会话的全部消息",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, userID, err := newAPIClient()
		if err != nil {
			return err
		}
		return showConversation(cmd.Context(), cmd.OutOrStdout(), client, userID, args[0])
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除会话及其消息",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, userID, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.DeleteConversation(cmd.Context(), userID, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ 已删除 %s\n", args[0])
		return nil
	},
}

var conversationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "实时显示其他设备上的会话变更",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsDeleteCmd, conversationsWatchCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func listConversations(ctx context.Context, out io.Writer, store chat.ConversationStore, userID string) error {
	convs, err := store.ListConversations(ctx, userID)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, "还没有会话，运行 'coach chat' 开始第一次对话")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, displayTitle(c.Title), c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func showConversation(ctx context.Context, out io.Writer, store chat.ConversationStore, userID, id string) error {
	msgs, err := store.ListMessages(ctx, userID, id)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		label := "你"
		if m.Role == chat.RoleAssistant {
			label = "助手"
		}
		fmt.Fprintf(out, "[%s]\n%s\n", label, m.Content)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !config.IsLoggedIn() {
		return errNotLoggedIn
	}
	out := cmd.OutOrStdout()

	client := websocket.NewClient(config.GetServerURL(), config.GetAccessToken())
	client.OnMessage(func(msg *websocket.Message) {
		printEvent(out, msg)
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	err := client.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Fprintln(out, "正在监听会话变更 (按 Ctrl+C 退出)")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
	case <-client.Done():
		return fmt.Errorf("connection closed by server")
	}
	return nil
}

func printEvent(out io.Writer, msg *websocket.Message) {
	if msg.Type == websocket.TypeError {
		fmt.Fprintf(out, "✗ 服务器错误: %s\n", string(msg.Payload))
		return
	}
	ev, err := msg.Event()
	if err != nil {
		return
	}
	at := time.UnixMilli(msg.Timestamp).Local().Format("15:04:05")
	switch msg.Type {
	case websocket.TypeConversationCreated:
		fmt.Fprintf(out, "%s  + 新会话 %s\n", at, ev.ConversationID)
	case websocket.TypeConversationUpdated:
		fmt.Fprintf(out, "%s  ~ %s 标题: %s\n", at, ev.ConversationID, displayTitle(ev.Title))
	case websocket.TypeConversationDeleted:
		fmt.Fprintf(out, "%s  - 删除会话 %s\n", at, ev.ConversationID)
	case websocket.TypeMessagesReplaced:
		fmt.Fprintf(out, "%s  ✎ %s 现有 %d 条消息\n", at, ev.ConversationID, ev.MessageCount)
	}
}
