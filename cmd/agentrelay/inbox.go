package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/coords"
	"agentrelay/internal/domain"
	"agentrelay/internal/inbox"

	"github.com/spf13/cobra"
)

func openInbox() (*inbox.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return inbox.NewStore(cfg.Inbox.Root, cfg.Inbox.CreateMissing, logger), nil
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read and manage recipient inboxes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [recipient]",
		Short: "List records in a recipient's inbox, or all inboxes with counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInbox()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				recipients, err := store.Recipients()
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RECIPIENT\tRECORDS")
				for _, r := range recipients {
					n, _ := store.Count(r)
					fmt.Fprintf(w, "%s\t%d\n", r, n)
				}
				return nil
			}

			records, err := store.List(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tFROM\tPRIORITY\tCREATED\tPREVIEW")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(r.ID), r.Sender, r.Priority,
					r.CreatedAt.Local().Format(time.DateTime), preview(r.Content, 48))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "read [recipient] [id]",
		Short: "Print a record (id may be an 8+ character prefix)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInbox()
			if err != nil {
				return err
			}
			rec, err := store.Read(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("id:       %s\nfrom:     %s\nto:       %s\npriority: %s\ncreated:  %s\n\n",
				rec.ID, rec.Sender, rec.Recipient, rec.Priority, rec.CreatedAt.Format(time.RFC3339))
			fmt.Println(rec.Content)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [recipient] [id]",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInbox()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0], args[1]); err != nil {
				return err
			}
			logger.Info("record deleted", "recipient", args[0], "id", args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch [recipient]",
		Short: "Print records as they arrive in a recipient's inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openInbox()
			if err != nil {
				return err
			}
			events := bus.NewEventBus(100, logger)
			events.On(bus.EventInboxReceived, func(ev bus.Event) {
				fmt.Printf("[%s] %v -> %v: %v\n", ev.Timestamp.Local().Format(time.TimeOnly),
					ev.Payload["from"], ev.Payload["to"], ev.Payload["content"])
			})

			ctx, stop := signalContext()
			defer stop()
			logger.Info("watching inbox", "recipient", args[0])
			return store.Watch(ctx, args[0], func(r inbox.Record) {
				events.Emit(bus.Event{Type: bus.EventInboxReceived, Source: "inbox", Payload: map[string]any{
					"id": r.ID, "from": r.Sender, "to": r.Recipient, "content": r.Content, "path": r.Path,
				}})
			})
		},
	})

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func preview(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r = r[:i]
			break
		}
	}
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}

func coordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coords",
		Short: "Manage recipient input coordinates for GUI delivery",
	}

	load := func() (*coords.Store, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return coords.Load(cfg.Coordinates.Path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := load()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "RECIPIENT\tX\tY")
			for _, e := range store.List() {
				fmt.Fprintf(w, "%s\t%d\t%d\n", e.Recipient, e.Point.X, e.Point.Y)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [recipient] [x] [y]",
		Short: "Set a recipient's input position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid x: %w", err)
			}
			y, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid y: %w", err)
			}
			store, err := load()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], domain.Point{X: x, Y: y}); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			logger.Info("coordinates saved", "recipient", args[0], "x", x, "y", y, "file", store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [recipient]",
		Short: "Remove a recipient's coordinates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := load()
			if err != nil {
				return err
			}
			if !store.Delete(args[0]) {
				return fmt.Errorf("no coordinates for %s", args[0])
			}
			return store.Save()
		},
	})

	return cmd
}
