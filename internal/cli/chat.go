package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"career-coach/internal/chat"
	"career-coach/internal/cli/config"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "和职业规划助手对话",
	Long: `进入交互式对话。

每次回复结束后对话会同步到服务器。
  /new   开始新的对话
  /exit  退出
回复生成过程中按 Ctrl+C 中断本次回复，在输入提示处按 Ctrl+C 退出。`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("conversation", "c", "", "继续已有的会话")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	client, userID, err := newAPIClient()
	if err != nil {
		return err
	}
	log := newLogger(cmd)
	defer func() { _ = log.Sync() }()

	completer := chat.NewHTTPCompleter(client.CompletionURL(""), config.GetAccessToken())
	r := &repl{
		store:   client,
		ownerID: userID,
		out:     cmd.OutOrStdout(),
		live:    term.IsTerminal(int(os.Stdout.Fd())),
		prompt:  term.IsTerminal(int(os.Stdin.Fd())),
		onConversation: func(id string) {
			completer.Endpoint = client.CompletionURL(id)
		},
		log: log,
	}

	opts := []chat.Option{
		chat.WithIdleTimeout(config.Get().Chat.IdleTimeout),
		chat.WithObserver(r.observe),
		chat.WithLogger(log),
	}
	if prompt := config.Get().Chat.SystemPrompt; prompt != "" {
		opts = append(opts, chat.WithSystemPrompt(prompt))
	}
	r.sess = chat.New(completer, opts...)

	ctx := cmd.Context()
	if id, _ := cmd.Flags().GetString("conversation"); id != "" {
		if err := r.resume(ctx, id); err != nil {
			return err
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	return r.run(ctx, readLines(os.Stdin), interrupts)
}

// readLines 在单独的 goroutine 中逐行读取输入，读完后关闭通道
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// conversationStore 对话循环使用的存储，比 chat.ConversationStore 多一个按ID读取会话
type conversationStore interface {
	chat.ConversationStore
	GetConversation(ctx context.Context, ownerID, id string) (*chat.Conversation, error)
}

// repl 交互式对话循环
type repl struct {
	sess    *chat.Session
	store   conversationStore
	ownerID string
	conv    *chat.Conversation

	out    io.Writer
	live   bool // 逐段输出回复；输出不是终端时回复结束后一次性输出
	prompt bool // 显示输入提示

	// onConversation 在当前会话变化时调用，用于更新补全接口地址
	onConversation func(id string)
	log            *zap.Logger
}

// resume 加载已有会话的消息
func (r *repl) resume(ctx context.Context, id string) error {
	conv, err := r.store.GetConversation(ctx, r.ownerID, id)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}
	msgs, err := r.store.ListMessages(ctx, r.ownerID, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	r.setConversation(conv)
	r.sess.SetMessages(msgs)
	fmt.Fprintf(r.out, "继续会话「%s」(%d 条消息)\n", displayTitle(conv.Title), len(msgs))
	return nil
}

// run 读取输入直到 /exit、输入结束或在提示处收到中断
func (r *repl) run(ctx context.Context, lines <-chan string, interrupts <-chan os.Signal) error {
	for {
		r.showPrompt()
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			r.sess.ClearMessages()
			r.setConversation(nil)
			fmt.Fprintln(r.out, "已开始新的对话")
			continue
		}

		r.exchange(ctx, line, interrupts)
	}
}

// exchange 发送一条消息并等待回复结束，然后同步到服务器
func (r *repl) exchange(ctx context.Context, text string, interrupts <-chan os.Signal) {
	if r.conv == nil {
		conv, err := r.store.CreateConversation(ctx, r.ownerID)
		if err != nil {
			fmt.Fprintf(r.out, "✗ 创建会话失败: %v\n", err)
			return
		}
		r.setConversation(conv)
	}

	exCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-done:
		}
	}()
	err := r.sess.Send(exCtx, text)
	close(done)
	cancel()

	if !r.live {
		if msgs := r.sess.Messages(); len(msgs) > 0 && msgs[len(msgs)-1].Role == chat.RoleAssistant {
			fmt.Fprint(r.out, msgs[len(msgs)-1].Content)
		}
	}
	fmt.Fprintln(r.out)

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, "(已中断)")
	case err != nil:
		fmt.Fprintf(r.out, "✗ %v\n", err)
		r.sess.DismissError()
	}

	if err := chat.SyncConversation(ctx, r.store, r.ownerID, r.conv, r.sess); err != nil {
		r.log.Warn("sync conversation", zap.String("conversation_id", r.conv.ID), zap.Error(err))
		fmt.Fprintf(r.out, "✗ 保存对话失败: %v\n", err)
	}
}

// observe 会话观察者，逐段输出回复
func (r *repl) observe(ev chat.Event) {
	if ev.Type == chat.EventDelta && r.live {
		fmt.Fprint(r.out, ev.Delta)
	}
}

func (r *repl) setConversation(conv *chat.Conversation) {
	r.conv = conv
	if r.onConversation != nil {
		id := ""
		if conv != nil {
			id = conv.ID
		}
		r.onConversation(id)
	}
}

func (r *repl) showPrompt() {
	if r.prompt {
		fmt.Fprint(r.out, "\n> ")
	}
}

func displayTitle(title string) string {
	if title == "" {
		return "(未命名)"
	}
	return title
}
