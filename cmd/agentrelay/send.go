package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"agentrelay/internal/domain"
	"agentrelay/internal/router"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// messageFlags are shared by send, broadcast and enqueue.
type messageFlags struct {
	from     string
	priority string
	hint     string
}

func (f *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "sender name (default: general.sender)")
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "NORMAL", "LOW, NORMAL, HIGH or URGENT")
	cmd.Flags().StringVar(&f.hint, "hint", "AUTO", "AUTO, GUI_AUTOMATION or INBOX_FILE")
}

func (f *messageFlags) parse(defaultSender string) (string, domain.Priority, domain.DeliveryHint, error) {
	priority, err := domain.ParsePriority(f.priority)
	if err != nil {
		return "", "", "", err
	}
	hint, err := domain.ParseHint(f.hint)
	if err != nil {
		return "", "", "", err
	}
	sender := f.from
	if sender == "" {
		sender = defaultSender
	}
	return sender, priority, hint, nil
}

// readContent joins args, or reads stdin when there are none.
func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return "", fmt.Errorf("no content: pass it as arguments or on stdin")
	}
	return content, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func sendCmd() *cobra.Command {
	var (
		flags  messageFlags
		to     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "send [content...]",
		Short: "Deliver one message (content from args or stdin)",
		Long: `Delivers a message through the router. With the AUTO hint the GUI strategy
is tried first and the recipient's inbox file is the fallback. On failure the
result is printed as JSON and the command exits with status 2.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sender, priority, hint, err := flags.parse(cfg.General.Sender)
			if err != nil {
				return err
			}
			content, err := readContent(args)
			if err != nil {
				return err
			}

			app, err := newApp(cfg, appOptions{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()

			res := app.router.Deliver(ctx, domain.NewMessage(sender, to, content, priority, hint))
			if err := printJSON(res); err != nil {
				return err
			}
			if app.recorder != nil && dryRun {
				for _, a := range app.recorder.Actions() {
					fmt.Fprintf(os.Stderr, "  %s\n", a)
				}
			}
			if !res.Succeeded() {
				return &exitError{code: 2, msg: fmt.Sprintf("delivery to %s failed: %s", to, res.Reason)}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "recipient name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record GUI actions instead of driving the browser")
	return cmd
}

func broadcastCmd() *cobra.Command {
	var (
		flags  messageFlags
		to     string
		all    bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "broadcast [content...]",
		Short: "Deliver the same message to several recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (to == "") == !all {
				return fmt.Errorf("use exactly one of --to and --all")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sender, priority, hint, err := flags.parse(cfg.General.Sender)
			if err != nil {
				return err
			}
			content, err := readContent(args)
			if err != nil {
				return err
			}

			app, err := newApp(cfg, appOptions{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer app.Close()

			recipients := splitList(to)
			if all {
				recipients, err = app.knownRecipients()
				if err != nil {
					return err
				}
			}
			if len(recipients) == 0 {
				return fmt.Errorf("no recipients")
			}

			ctx, stop := signalContext()
			defer stop()

			results := app.router.Broadcast(ctx, router.NewBroadcast(sender, recipients, content, priority, hint))
			if err := printJSON(results); err != nil {
				return err
			}
			var failed []string
			for r, res := range results {
				if !res.Succeeded() {
					failed = append(failed, r)
				}
			}
			if len(failed) > 0 {
				sort.Strings(failed)
				return &exitError{code: 2, msg: fmt.Sprintf("delivery failed for %s", strings.Join(failed, ", "))}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "comma-separated recipients")
	cmd.Flags().BoolVar(&all, "all", false, "every recipient with coordinates or an inbox")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record GUI actions instead of driving the browser")
	return cmd
}

// knownRecipients lists every recipient with coordinates or an inbox.
func (a *app) knownRecipients() ([]string, error) {
	seen := map[string]bool{}
	if a.coords != nil {
		for _, e := range a.coords.List() {
			seen[e.Recipient] = true
		}
	}
	if a.inbox != nil {
		names, err := a.inbox.Recipients()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func enqueueCmd() *cobra.Command {
	var (
		flags messageFlags
		to    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue [content...]",
		Short: "Queue a message in the spool for the serve worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sender, priority, hint, err := flags.parse(cfg.General.Sender)
			if err != nil {
				return err
			}
			content, err := readContent(args)
			if err != nil {
				return err
			}

			app, err := newApp(cfg, appOptions{noBrowser: true})
			if err != nil {
				return err
			}
			defer app.Close()

			sp := app.spool()
			if err := sp.Init(); err != nil {
				return err
			}
			var ids []string
			for _, r := range splitList(to) {
				msg := domain.NewMessage(sender, r, content, priority, hint)
				path, err := sp.Enqueue(msg)
				if err != nil {
					return err
				}
				logger.Info("queued", "id", msg.ID, "recipient", r, "file", path)
				ids = append(ids, msg.ID)
			}
			return printJSON(ids)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "recipient, or comma-separated recipients")
	return cmd
}
