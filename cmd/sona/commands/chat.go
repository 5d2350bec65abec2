package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/internal/permission"
	"github.com/qent/sona-sub000/internal/session"
)

var (
	chatModel  string
	chatResume string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat with the configured model.

With a message argument the turn runs once and the command exits when it
finishes. Permission questions are answered on the input line.

Commands:
  /stop        stop the running turn
  /auto        toggle tool auto-approval
  /delete N    delete message N and everything after it
  /new         start a new chat
  /load ID     switch to a stored chat
  /quit        exit

Examples:
  sona chat
  sona chat "Summarize README.md"
  sona chat --chat 01J... --model anthropic/claude-sonnet-4-20250514`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use (provider/model format)")
	chatCmd.Flags().StringVarP(&chatResume, "chat", "c", "", "Chat ID to continue")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startCore(ctx, chatModel); err != nil {
		return err
	}
	if chatResume != "" {
		if err := a.ctrl.LoadChat(ctx, chatResume); err != nil {
			return fmt.Errorf("load chat %s: %w", chatResume, err)
		}
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for cs := range a.ctrl.State().Subscribe(ctx) {
			r.Render(cs)
		}
	}()

	repl := &chatLoop{ctrl: a.ctrl, out: out}

	if len(args) > 0 {
		if err := a.ctrl.Send(ctx, strings.Join(args, " ")); err != nil {
			return err
		}
		repl.oneShot = true
	} else {
		fmt.Fprintln(out, dimColor.Sprint("Type a message, /quit to exit."))
	}

	err = repl.run(ctx, cmd.InOrStdin())
	cancel()
	<-rendered
	return err
}

// chatLoop reads input lines and dispatches them to the controller.
type chatLoop struct {
	ctrl    *session.Controller
	out     io.Writer
	oneShot bool
}

func (l *chatLoop) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var finished <-chan struct{}
	if l.oneShot {
		finished = l.turnDone(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		case <-sigs:
			if !l.ctrl.Busy() {
				return nil
			}
			l.ctrl.Stop()
			fmt.Fprintln(l.out, dimColor.Sprint("\nstopped"))
		case line, ok := <-lines:
			if !ok {
				l.ctrl.Stop()
				return nil
			}
			if quit := l.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (l *chatLoop) turnDone(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		_ = l.ctrl.Wait(ctx)
	}()
	return ch
}

// handle processes one input line and reports whether to exit.
func (l *chatLoop) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	if l.ctrl.State().Current().PendingToolName != nil {
		l.answer(ctx, line)
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return false
		}
		if err := l.ctrl.Send(ctx, line); err != nil {
			l.report(err)
		}
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		l.ctrl.Stop()
		return true
	case "/stop":
		l.ctrl.Stop()
	case "/auto":
		on := l.ctrl.ToggleAutoApproveTools()
		fmt.Fprintln(l.out, dimColor.Sprintf("auto-approve tools: %t", on))
	case "/new":
		l.ctrl.NewChat()
		fmt.Fprintln(l.out, dimColor.Sprint("new chat"))
	case "/load":
		if arg == "" {
			l.report(errors.New("usage: /load ID"))
			return false
		}
		if err := l.ctrl.LoadChat(ctx, arg); err != nil {
			l.report(err)
		}
	case "/delete":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			l.report(errors.New("usage: /delete N"))
			return false
		}
		if err := l.ctrl.DeleteFrom(ctx, n); err != nil {
			l.report(err)
			return false
		}
		fmt.Fprintln(l.out, dimColor.Sprintf("deleted messages from %d", n))
	default:
		l.report(fmt.Errorf("unknown command %s", name))
	}
	return false
}

func (l *chatLoop) answer(ctx context.Context, line string) {
	var allow, persist bool
	switch strings.ToLower(line) {
	case "y", "yes":
		allow = true
	case "a", "always":
		allow, persist = true, true
	case "n", "no":
	default:
		fmt.Fprint(l.out, promptColor.Sprint("answer y, a or n: "))
		return
	}
	err := l.ctrl.ResolvePermission(ctx, allow, persist)
	if err != nil && !errors.Is(err, permission.ErrNoPendingRequest) {
		l.report(err)
	}
}

func (l *chatLoop) report(err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		fmt.Fprintln(l.out, dimColor.Sprint("a turn is running, /stop to cancel it"))
	default:
		fmt.Fprintln(l.out, delColor.Sprintf("error: %v", err))
	}
}
