package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwygoda/printq/internal/domain"
	"github.com/cwygoda/printq/internal/share"
)

func newQueueCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAddCommand(ctx),
		newListCommand(ctx),
		newSetCommand(ctx),
		newRemoveCommand(ctx),
		newClearCommand(ctx),
		newReloadCommand(ctx),
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var appendOnly bool

	cmd := &cobra.Command{
		Use:   "add FILE...",
		Short: "Copy files into the spool and queue them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				receive := a.receiver
				if appendOnly {
					receive = func() (*share.Receiver, error) { return a.appendingReceiver(cmd.Context()) }
				}
				receiver, err := receive()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				var failed int
				for _, arg := range args {
					descriptors, err := receiver.Receive(cmd.Context(), arg)
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", arg, err)
						continue
					}
					for _, d := range descriptors {
						fmt.Fprintf(out, "Queued %s (%s)\n", displayName(d.Identifier), copies(d.Quantity))
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files could not be queued", failed, len(args))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&appendOnly, "append-only", false, "Append to the store without merging; the next reload merges duplicates")
	return cmd
}

// jobView is the JSON form of one queue entry.
type jobView struct {
	Position   int    `json:"position"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	A3         bool   `json:"a3"`
	SizeBytes  int64  `json:"size_bytes"`
	Missing    bool   `json:"missing,omitempty"`
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				views := buildJobViews(a.queue.JobDescriptors())
				if asJSON {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"#", "Document", "Copies", "Paper", "Size"},
					buildJobRows(views),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the queue as JSON")
	return cmd
}

func buildJobViews(descriptors []domain.Descriptor) []jobView {
	views := make([]jobView, 0, len(descriptors))
	for i, d := range descriptors {
		view := jobView{
			Position:   i + 1,
			Identifier: d.Identifier,
			Name:       displayName(d.Identifier),
			Quantity:   d.Quantity,
			A3:         d.IsA3,
		}
		if info, err := statDocument(d.Identifier); err == nil {
			view.SizeBytes = info.Size()
		} else {
			view.Missing = true
		}
		views = append(views, view)
	}
	return views
}

func buildJobRows(views []jobView) [][]string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		size := humanize.Bytes(uint64(v.SizeBytes))
		if v.Missing {
			size = "missing"
		}
		rows = append(rows, []string{
			strconv.Itoa(v.Position),
			v.Name,
			strconv.Itoa(v.Quantity),
			paperName(v.A3),
			size,
		})
	}
	return rows
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	var quantity int
	var a3, a4 bool

	cmd := &cobra.Command{
		Use:   "set POSITION",
		Short: "Change the copies or paper size of a queued document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a3 && a4 {
				return errors.New("--a3 and --a4 are mutually exclusive")
			}
			qtyChanged := cmd.Flags().Changed("quantity")
			if !qtyChanged && !a3 && !a4 {
				return errors.New("nothing to change: pass --quantity, --a3 or --a4")
			}

			return ctx.withApp(cmd, func(a *app) error {
				identifier, err := resolvePosition(a.queue.Jobs(), args[0])
				if err != nil {
					return err
				}

				settings := domain.DocumentSettings{Quantity: a.queue.Quantity(identifier), IsA3: a.queue.IsA3(identifier)}
				if qtyChanged {
					settings, _ = a.queue.SetJobQuantity(identifier, quantity)
				}
				if a3 || a4 {
					settings, _ = a.queue.SetA3(identifier, a3)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %s\n", displayName(identifier), copies(settings.Quantity), paperName(settings.IsA3))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&quantity, "quantity", "n", 1, "Number of copies (values below 1 become 1)")
	cmd.Flags().BoolVar(&a3, "a3", false, "Print on A3 paper")
	cmd.Flags().BoolVar(&a4, "a4", false, "Print on A4 paper")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove POSITION...",
		Aliases: []string{"rm"},
		Short:   "Remove documents from the queue",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				jobs := a.queue.Jobs()
				indices := make([]int, 0, len(args))
				for _, arg := range args {
					pos, err := parsePosition(arg, len(jobs))
					if err != nil {
						return err
					}
					indices = append(indices, pos-1)
				}

				for _, identifier := range a.queue.RemoveJobs(indices...) {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", displayName(identifier))
				}
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every document from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				n := a.queue.Len()
				a.queue.RemoveAllJobs()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d documents\n", n)
				return nil
			})
		},
	}
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the queue store and merge duplicate entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				a.queue.Reload()
				fmt.Fprintf(cmd.OutOrStdout(), "Queue has %d documents\n", a.queue.Len())
				return nil
			})
		},
	}
}

func resolvePosition(jobs []string, arg string) (string, error) {
	pos, err := parsePosition(arg, len(jobs))
	if err != nil {
		return "", err
	}
	return jobs[pos-1], nil
}

// parsePosition parses a 1-based queue position.
func parsePosition(arg string, n int) (int, error) {
	pos, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q", arg)
	}
	if pos < 1 || pos > n {
		return 0, fmt.Errorf("position %d out of range (queue has %d documents)", pos, n)
	}
	return pos, nil
}

func statDocument(identifier string) (os.FileInfo, error) {
	path, err := domain.ParseLocation(identifier)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

func displayName(identifier string) string {
	if path, err := domain.ParseLocation(identifier); err == nil {
		return filepath.Base(path)
	}
	return identifier
}

func paperName(isA3 bool) string {
	if isA3 {
		return "A3"
	}
	return "A4"
}

func copies(n int) string {
	if n == 1 {
		return "1 copy"
	}
	return fmt.Sprintf("%d copies", n)
}
