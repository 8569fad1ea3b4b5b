package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/fcompose/internal/upload"
)

type transferView struct {
	Name     string `json:"name" yaml:"name"`
	State    string `json:"state" yaml:"state"`
	Size     string `json:"size" yaml:"size"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Rejected bool   `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

type uploadReport struct {
	Surface   string         `json:"surface" yaml:"surface"`
	Text      string         `json:"text" yaml:"text"`
	Transfers []transferView `json:"transfers" yaml:"transfers"`
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		editRow int64
		text    string
	)
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files into the composer",
		Long: "Upload files with the configured resumable transport. Each file is written into the\n" +
			"composer text as a placeholder and replaced by its link once the transfer finishes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			transport, err := upload.NewTransport(ctx, a.cfg)
			if err != nil {
				return err
			}
			return a.runUpload(ctx, transport, editRow, text, args)
		},
	}
	cmd.Flags().Int64Var(&editRow, "edit-row", 0, "upload into the edit row of this message id instead of the compose box")
	cmd.Flags().StringVar(&text, "text", "", "initial composer text")
	return cmd
}

func (a *app) runUpload(ctx context.Context, transport upload.Transport, editRow int64, text string, paths []string) error {
	registry := upload.NewRegistry(upload.RegistryConfigFrom(a.cfg, transport), a.publisher)
	defer registry.Close()

	sc := upload.SurfaceConfig{Mode: upload.ModeCompose, Textarea: a.box, Banners: a.banners, SendGate: a.box}
	if editRow > 0 {
		sc.Mode = upload.ModeEdit
		sc.RowID = editRow
	}
	a.box.OpenStream(0, "")
	a.box.SetText(text)

	manager, err := registry.SetupUpload(sc)
	if err != nil {
		return err
	}
	defer registry.DeactivateUpload(sc)

	files := make([]upload.File, 0, len(paths))
	for _, path := range paths {
		f, closer, err := upload.OpenFile(path)
		if err != nil {
			return err
		}
		defer closer.Close()
		files = append(files, f)
	}

	results := manager.AddFiles(files...)

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Info().Msg("interrupted, cancelling uploads")
		manager.CancelAll()
		<-done
	}

	report := uploadReport{Surface: string(sc.Key()), Text: a.box.Text()}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			report.Transfers = append(report.Transfers, transferView{Name: r.Name, State: "rejected", Error: r.Err.Error(), Rejected: true})
			continue
		}
		if r.Duplicate {
			continue
		}
		t, ok := manager.Get(r.Handle)
		if !ok {
			continue
		}
		v := transferView{Name: t.Name, State: string(t.State), Size: humanize.IBytes(uint64(t.Total)), URL: t.Result.URL}
		if t.Err != nil {
			v.Error = t.Err.Error()
		}
		if t.State != upload.StateSucceeded {
			failed++
		}
		report.Transfers = append(report.Transfers, v)
	}

	if a.machineOutput() {
		if err := a.writeOutput(report); err != nil {
			return err
		}
	} else {
		a.printf("%s\n", report.Text)
	}
	return uploadError(failed, len(results))
}

func uploadError(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d uploads did not complete", failed, total)
}
