package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bdobrica/chobo/common/trace"
	"github.com/bdobrica/chobo/internal/chobo/commands"
	"github.com/bdobrica/chobo/internal/chobo/dialogue"
	"github.com/bdobrica/chobo/internal/chobo/observability"
	"github.com/bdobrica/chobo/internal/chobo/session"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// errQuit is returned by the quit command to stop the REPL.
var errQuit = errors.New("quit")

const (
	prompt          = "> "
	defaultHistory  = 5
	conversationTip = `I record sales and purchases. Try "sold 10 apples to Zhang San at 5 each", or type /chobo help.`
)

// Run reads turns from in until EOF, /chobo quit or ctx ends, writing every
// reply to out. Expired drafts are swept in the background meanwhile.
//
// Lines are read on a separate goroutine. If in is an io.Closer, Run closes it
// on return so that goroutine is released from a pending Read. Otherwise it
// stays blocked until in yields data or EOF. A terminal stdin may stay
// blocked even after Close.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.sweep(ctx)
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(out, `Tell me about a sale or a purchase. "/chobo help" lists commands.`)
	for {
		fmt.Fprint(out, prompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			text, quit := a.Handle(ctx, line)
			if text != "" {
				fmt.Fprintln(out, text)
			}
			if quit {
				return nil
			}
		}
	}
}

// Handle answers one input line. quit is true after /chobo quit.
func (a *App) Handle(ctx context.Context, line string) (text string, quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	out, err := a.commands.Route(ctx, line)
	switch {
	case errors.Is(err, commands.ErrNotACommand):
	case errors.Is(err, errQuit):
		return "Bye.", true
	case errors.Is(err, commands.ErrUnknownCommand), errors.Is(err, commands.ErrEmptyCommand):
		return fmt.Sprintf("%v.\n%s", err, a.commands.Help()), false
	case err != nil:
		observability.WithTrace(ctx, a.log).Warn("app.command.failed", "command", line, "err", err)
		return "Error: " + err.Error(), false
	default:
		return out, false
	}

	reply := a.engine.Handle(ctx, dialogue.Turn{SessionID: a.SessionID(), Utterance: line})
	a.setSessionID(reply.SessionID)
	if reply.Err != nil {
		observability.WithTrace(trace.WithSessionID(ctx, reply.SessionID), a.log).Debug("app.turn.error", "err", reply.Err)
	}
	if !reply.Handled && reply.Text == "" {
		return conversationTip, false
	}
	return reply.Text, false
}

func (a *App) registerCommands() {
	a.commands.Register("help", "help", func(context.Context, *commands.Command) (string, error) {
		return a.commands.Help(), nil
	})
	a.commands.Register("new", "new", a.cmdNew)
	a.commands.Register("export", "export <file.xlsx>", a.cmdExport)
	a.commands.Register("history", "history [n]", a.cmdHistory)
	a.commands.Register("quit", "quit", func(context.Context, *commands.Command) (string, error) {
		return "", errQuit
	})
}

// cmdNew abandons the current draft and starts a fresh conversation.
func (a *App) cmdNew(_ context.Context, _ *commands.Command) (string, error) {
	a.mu.Lock()
	old := a.sessionID
	a.sessionID = session.NewID()
	a.mu.Unlock()

	if a.sessions.Remove(old) {
		return "Discarded the pending draft. Started a new conversation.", nil
	}
	return "Started a new conversation.", nil
}

// cmdExport writes the whole ledger to an XLSX file.
func (a *App) cmdExport(ctx context.Context, cmd *commands.Command) (string, error) {
	path, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: " + commandPrefix + " export <file.xlsx>", nil
	}
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	n, err := a.ledger.ExportXLSX(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("export to %s: %w", path, err)
	}
	return fmt.Sprintf("Exported %s to %s.", plural(n, "order"), path), nil
}

// cmdHistory lists the most recent orders, newest first.
func (a *App) cmdHistory(ctx context.Context, cmd *commands.Command) (string, error) {
	limit := defaultHistory
	if arg, ok := cmd.GetArg(0); ok {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Sprintf("Usage: %s history [n], n a positive number (got %q).", commandPrefix, arg), nil
		}
		limit = n
	}

	entries, err := a.ledger.List(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No orders recorded yet.", nil
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		names := make([]string, 0, len(e.Order.Items))
		for _, it := range e.Order.Items {
			names = append(names, fmt.Sprintf("%s x %d", it.Name, it.Quantity))
		}
		fmt.Fprintf(&b, "%s  %-8s  %s  %s  total %s  [%s]",
			e.Receipt.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Order.Direction.Noun(),
			e.Order.Counterparty,
			strings.Join(names, ", "),
			txn.FormatAmount(e.Receipt.Total),
			e.Receipt.ID,
		)
	}
	return b.String(), nil
}
