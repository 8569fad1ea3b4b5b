package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/fcompose/internal/drafts"
)

const previewWidth = 48

type draftView struct {
	ID         string    `json:"id" yaml:"id"`
	Type       string    `json:"type" yaml:"type"`
	Content    string    `json:"content" yaml:"content"`
	StreamID   int64     `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
	StreamName string    `json:"stream_name,omitempty" yaml:"stream_name,omitempty"`
	Topic      string    `json:"topic,omitempty" yaml:"topic,omitempty"`
	Recipients string    `json:"private_message_recipient,omitempty" yaml:"private_message_recipient,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	Relevant   bool      `json:"relevant" yaml:"relevant"`
}

func (a *app) viewOf(id string, d drafts.Draft) draftView {
	v := draftView{
		ID:         id,
		Type:       string(d.Type),
		Content:    d.Content,
		StreamID:   d.StreamID,
		Topic:      d.Topic,
		Recipients: d.PrivateMessageRecipient,
		UpdatedAt:  time.UnixMilli(d.UpdatedAt).UTC(),
	}
	if name, ok := a.streams.StreamName(d.StreamID); ok {
		v.StreamName = name
	}
	return v
}

// destination renders where a draft would be sent.
func (a *app) destination(d drafts.Draft) string {
	if d.Type == drafts.TypePrivate {
		return "@" + strings.ReplaceAll(d.PrivateMessageRecipient, ",", ", @")
	}
	stream := "(no stream)"
	if d.StreamID != 0 {
		stream = "stream " + strconv.FormatInt(d.StreamID, 10)
		if name, ok := a.streams.StreamName(d.StreamID); ok {
			stream = "#" + name
		}
	}
	if d.Topic == "" {
		return stream
	}
	return stream + " > " + d.Topic
}

func preview(content string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	return truncate(first, previewWidth)
}

func newDraftCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "draft",
		Aliases: []string{"drafts"},
		Short:   "Manage unsent messages",
	}
	cmd.AddCommand(
		newDraftSaveCmd(a),
		newDraftComposeCmd(a),
		newDraftListCmd(a),
		newDraftShowCmd(a),
		newDraftRestoreCmd(a),
		newDraftDeleteCmd(a),
		newDraftDeleteAllCmd(a),
		newDraftGCCmd(a),
		newDraftRenameCmd(a),
	)
	return cmd
}

func newDraftSaveCmd(a *app) *cobra.Command {
	var (
		stream  string
		topic   string
		to      string
		draftID string
	)
	cmd := &cobra.Command{
		Use:   "save <content>...",
		Short: "Save a message as a draft",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" && (stream != "" || topic != "") {
				return fmt.Errorf("--to cannot be combined with --stream or --topic")
			}

			if to != "" {
				a.box.OpenPrivate(to)
			} else {
				var streamID int64
				if stream != "" {
					id, ok := a.streams.Lookup(stream)
					if !ok {
						return fmt.Errorf("unknown stream %q", stream)
					}
					streamID = id
				}
				a.box.OpenStream(streamID, topic)
			}
			a.box.SetText(strings.Join(args, " "))

			if draftID != "" {
				if _, ok := a.lifecycle.Model().GetDraft(draftID); !ok {
					return fmt.Errorf("draft %s: %w", draftID, drafts.ErrNotFound)
				}
				a.box.BindDraft(draftID)
			}

			id := a.lifecycle.UpdateDraft(drafts.UpdateOptions{})
			if id == "" {
				return fmt.Errorf("nothing to save: content must be longer than %d characters", a.cfg.Drafts.MinContentLength)
			}
			a.box.Close()

			d, _ := a.lifecycle.Model().GetDraft(id)
			if a.machineOutput() {
				return a.writeOutput(a.viewOf(id, d))
			}
			a.printf("%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream id or name")
	cmd.Flags().StringVar(&topic, "topic", "", "stream topic")
	cmd.Flags().StringVar(&to, "to", "", "comma-separated direct message recipients")
	cmd.Flags().StringVar(&draftID, "id", "", "update an existing draft")
	return cmd
}

func newDraftComposeCmd(a *app) *cobra.Command {
	var (
		stream string
		topic  string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Write a message from stdin, checkpointing it as a draft",
		Long:  "Read message lines from stdin until EOF. The text is saved as a draft every drafts.autosave_interval and once more at the end.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" && (stream != "" || topic != "") {
				return fmt.Errorf("--to cannot be combined with --stream or --topic")
			}
			if to != "" {
				a.box.OpenPrivate(to)
			} else {
				var streamID int64
				if stream != "" {
					id, ok := a.streams.Lookup(stream)
					if !ok {
						return fmt.Errorf("unknown stream %q", stream)
					}
					streamID = id
				}
				a.box.OpenStream(streamID, topic)
			}
			defer a.box.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			done := make(chan struct{})
			go func() {
				defer close(done)
				drafts.NewAutosaver(a.lifecycle, a.cfg.Drafts.AutosaveInterval).Run(ctx)
			}()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for first := true; scanner.Scan(); first = false {
				if !first {
					a.box.Type("\n")
				}
				a.box.Type(scanner.Text())
			}
			cancel()
			<-done
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read message: %w", err)
			}

			id := a.box.DraftID()
			if id == "" {
				return fmt.Errorf("nothing to save: content must be longer than %d characters", a.cfg.Drafts.MinContentLength)
			}
			if a.machineOutput() {
				d, _ := a.lifecycle.Model().GetDraft(id)
				return a.writeOutput(a.viewOf(id, d))
			}
			a.printf("%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream id or name")
	cmd.Flags().StringVar(&topic, "topic", "", "stream topic")
	cmd.Flags().StringVar(&to, "to", "", "comma-separated direct message recipients")
	return cmd
}

func newDraftListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List drafts, those for the current narrow first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			matching, _ := a.lifecycle.FilterDraftsByComposeBoxAndRecipient(a.lifecycle.Model().Get())

			var relevant, other []draftView
			for _, e := range a.lifecycle.SortedDrafts() {
				v := a.viewOf(e.ID, e.Draft)
				if _, ok := matching[e.ID]; ok {
					v.Relevant = true
					relevant = append(relevant, v)
					continue
				}
				other = append(other, v)
			}

			if a.machineOutput() {
				return a.writeOutput(append(relevant, other...))
			}
			if len(relevant)+len(other) == 0 {
				a.printf("No drafts.\n")
				return nil
			}

			if len(relevant) > 0 {
				a.printf("Drafts for %s\n", a.narrowLabel())
				if err := a.renderDrafts(relevant); err != nil {
					return err
				}
				if len(other) > 0 {
					a.printf("\nOther drafts\n")
				}
			}
			return a.renderDrafts(other)
		},
	}
}

func (a *app) renderDrafts(views []draftView) error {
	if len(views) == 0 {
		return nil
	}
	t := newTable("ID", "TO", "UPDATED", "MESSAGE")
	for _, v := range views {
		d, _ := a.lifecycle.Model().GetDraft(v.ID)
		t.add(v.ID, a.destination(d), humanize.Time(v.UpdatedAt), preview(v.Content))
	}
	return t.render(a.out)
}

func newDraftShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := a.lifecycle.Model().GetDraft(args[0])
			if !ok {
				return fmt.Errorf("draft %s: %w", args[0], drafts.ErrNotFound)
			}
			if a.machineOutput() {
				return a.writeOutput(a.viewOf(args[0], d))
			}
			a.printf("To:      %s\n", a.destination(d))
			a.printf("Updated: %s\n\n", humanize.Time(time.UnixMilli(d.UpdatedAt)))
			a.printf("%s\n", d.Content)
			return nil
		},
	}
}

func newDraftRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Reopen a draft in the composer",
		Long:  "Reopen a draft in the composer. A draft with a complete destination also narrows to it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.lifecycle.RestoreDraft(args[0]) {
				return fmt.Errorf("draft %s: %w", args[0], drafts.ErrNotFound)
			}
			state, _ := a.box.Session()
			d := drafts.Draft{
				Type:                    state.Type,
				Content:                 state.Content,
				StreamID:                state.StreamID,
				Topic:                   state.Topic,
				PrivateMessageRecipient: state.Recipients,
			}
			if a.machineOutput() {
				return a.writeOutput(map[string]any{
					"draft_id":    a.box.DraftID(),
					"destination": a.destination(d),
					"narrow":      a.narrowLabel(),
					"content":     a.box.Text(),
				})
			}
			a.printf("Restored to %s\n\n%s\n", a.destination(d), a.box.Text())
			return nil
		},
	}
}

func newDraftDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete drafts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				a.lifecycle.Model().DeleteDraft(id)
			}
			if a.machineOutput() {
				return a.writeOutput(map[string]any{"deleted": args, "remaining": a.lifecycle.Model().Count()})
			}
			a.printf("ok\n")
			return nil
		},
	}
}

func newDraftDeleteAllCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s drafts without --yes", humanize.Comma(int64(a.lifecycle.Model().Count())))
			}
			a.lifecycle.DeleteAllDrafts()
			if a.machineOutput() {
				return a.writeOutput(map[string]any{"remaining": a.lifecycle.Model().Count()})
			}
			a.printf("ok\n")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newDraftGCCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove drafts older than drafts.max_age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed := a.expired + a.lifecycle.RemoveOldDrafts()
			if a.machineOutput() {
				return a.writeOutput(map[string]any{"removed": removed, "max_age": a.cfg.Drafts.MaxAge.String()})
			}
			a.printf("removed %s expired drafts\n", humanize.Comma(int64(removed)))
			return nil
		},
	}
}

func newDraftRenameCmd(a *app) *cobra.Command {
	var (
		oldStream string
		oldTopic  string
		newStream string
		newTopic  string
	)
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Move drafts addressed to a stream topic",
		Long:  "Rewrite drafts addressed to --old-stream/--old-topic, as after a topic was renamed or moved.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, ok := a.streams.Lookup(oldStream)
			if !ok {
				return fmt.Errorf("unknown stream %q", oldStream)
			}

			var (
				newIDPtr    *int64
				newTopicPtr *string
			)
			if cmd.Flags().Changed("new-stream") {
				id, ok := a.streams.Lookup(newStream)
				if !ok {
					return fmt.Errorf("unknown stream %q", newStream)
				}
				newIDPtr = &id
			}
			if cmd.Flags().Changed("new-topic") {
				newTopicPtr = &newTopic
			}
			if newIDPtr == nil && newTopicPtr == nil {
				return fmt.Errorf("nothing to rename: set --new-stream or --new-topic")
			}

			n := a.lifecycle.RenameStreamRecipient(oldID, oldTopic, newIDPtr, newTopicPtr)
			if a.machineOutput() {
				return a.writeOutput(map[string]any{"rewritten": n})
			}
			a.printf("rewrote %d drafts\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&oldStream, "old-stream", "", "stream id or name the drafts are addressed to")
	cmd.Flags().StringVar(&oldTopic, "old-topic", "", "topic the drafts are addressed to")
	cmd.Flags().StringVar(&newStream, "new-stream", "", "stream id or name to move drafts to")
	cmd.Flags().StringVar(&newTopic, "new-topic", "", "topic to move drafts to")
	_ = cmd.MarkFlagRequired("old-stream")
	return cmd
}
