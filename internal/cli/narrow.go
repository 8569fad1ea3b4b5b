package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/fcompose/internal/config"
)

func (a *app) narrowLabel() string {
	cur, err := a.narrow.Load()
	if err != nil {
		return "(unknown)"
	}
	if cur.StreamID != 0 && cur.StreamName == "" {
		if name, ok := a.streams.StreamName(cur.StreamID); ok {
			cur.StreamName = name
		}
	}
	return cur.String()
}

func newNarrowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "narrow",
		Short: "Show or change the current view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.narrow.Load()
			if err != nil {
				return err
			}
			if a.machineOutput() {
				return a.writeOutput(cur)
			}
			a.printf("%s\n", a.narrowLabel())
			return nil
		},
	}
	cmd.AddCommand(newNarrowSetCmd(a), newNarrowClearCmd(a))
	return cmd
}

func newNarrowSetCmd(a *app) *cobra.Command {
	var (
		stream string
		topic  string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Narrow to a stream, a topic or a direct message conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			next := &config.Narrow{Trigger: "cli", UpdatedAt: time.Now().UTC()}
			switch {
			case to != "" && (stream != "" || topic != ""):
				return fmt.Errorf("--to cannot be combined with --stream or --topic")
			case to != "":
				next.Recipients = to
			case stream != "":
				id, ok := a.streams.Lookup(stream)
				if !ok {
					return fmt.Errorf("unknown stream %q", stream)
				}
				next.StreamID = id
				next.StreamName, _ = a.streams.StreamName(id)
				next.Topic = topic
			default:
				return fmt.Errorf("set --stream or --to")
			}
			if err := a.narrow.Set(next); err != nil {
				return err
			}
			a.printf("%s\n", next.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream id or name")
	cmd.Flags().StringVar(&topic, "topic", "", "topic within --stream")
	cmd.Flags().StringVar(&to, "to", "", "comma-separated direct message recipients")
	return cmd
}

func newNarrowClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the current view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.narrow.Clear(); err != nil {
				return err
			}
			a.printf("%s\n", a.narrowLabel())
			return nil
		},
	}
}
