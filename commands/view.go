package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jupark12/deck-viewer/convert"
	"github.com/jupark12/deck-viewer/models"
	"github.com/jupark12/deck-viewer/render"
	"github.com/jupark12/deck-viewer/session"
	"github.com/jupark12/deck-viewer/ui"
)

var (
	viewServer      string
	viewOutDir      string
	viewDownload    string
	viewInteractive bool
)

var viewCmd = &cobra.Command{
	Use:   "view FILE",
	Short: "Convert a slide deck and page through the result",
	Long: `Upload a .pptx file to the conversion service, follow the conversion progress and
page through the produced PDF. Each visited page is written as a PNG image.

Controls: n (next), p (previous), d (download link), q (quit).`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func init() {
	viewCmd.Flags().StringVarP(&viewServer, "server", "s", "", "conversion service base URL (overrides config)")
	viewCmd.Flags().StringVarP(&viewOutDir, "out", "o", "", "directory for rendered page images (overrides config)")
	viewCmd.Flags().StringVar(&viewDownload, "download", "", "save the converted PDF to this path")
	viewCmd.Flags().BoolVar(&viewInteractive, "interactive", true, "read paging commands from stdin")
}

func runView(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := cfg.Client.BaseURL
	if viewServer != "" {
		baseURL = viewServer
	}
	outDir := cfg.Client.OutputDir
	if viewOutDir != "" {
		outDir = viewOutDir
	}

	client, err := convert.NewClient(baseURL,
		convert.WithTimeout(cfg.Client.RequestTimeout),
		convert.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	renderer := render.NewRenderer(render.WithLogger(logger))

	ctrl := session.New(client,
		session.WithDocumentLoader(renderer),
		session.WithTickInterval(cfg.Client.TickInterval),
		session.WithLogger(logger),
	)
	ctrl.Start(ctx)
	updates := ctrl.Subscribe()

	display := ui.NewDisplay(cmd.OutOrStdout())

	candidate, err := readCandidate(args[0])
	if err != nil {
		return err
	}
	snap := ctrl.SelectFile(candidate)
	if snap.Error != "" {
		display.Error(snap.Error)
		return errReported
	}
	if !ctrl.Submit() {
		return fmt.Errorf("conversion of %s was not started", candidate.Name)
	}

	snap, err = awaitSettled(ctx, updates, ui.NewProgressBar(cmd.ErrOrStderr(), "Converting"))
	if err != nil {
		return err
	}
	if snap.Status == session.StatusFailed {
		display.Error(snap.Error)
		return errReported
	}
	display.Success("Converted %s", candidate.Name)
	display.Download(snap.DocumentRef)

	snap, err = awaitDocument(ctx, updates)
	if err != nil {
		return err
	}
	if snap.RenderError != "" {
		display.RenderFallback(snap.RenderError)
		return nil
	}
	doc, ok := renderer.Document(snap.DocumentRef)
	if !ok {
		display.RenderFallback(session.RenderFailureMessage)
		return nil
	}

	if viewDownload != "" {
		if err := saveDocument(doc, viewDownload); err != nil {
			return err
		}
		display.Info("Saved PDF to %s", viewDownload)
	}

	p := &pager{ctrl: ctrl, doc: doc, display: display, outDir: outDir, scale: cfg.Client.Scale}
	if !p.show(snap) {
		return nil
	}
	if !viewInteractive {
		return nil
	}
	return p.run(ctx, cmd.InOrStdin())
}

// readCandidate only reads files that carry the deck extension; anything else is handed
// to the session by name so it can be rejected there.
func readCandidate(path string) (models.InputFile, error) {
	name := filepath.Base(path)
	if !models.HasDeckExtension(name) {
		return models.InputFile{Name: name}, nil
	}
	return models.ReadInputFile(path)
}

// saveDocument writes the converted PDF to path.
func saveDocument(doc *render.Document, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("save pdf: %w", err)
		}
	}
	if err := os.WriteFile(path, doc.Bytes(), 0644); err != nil {
		return fmt.Errorf("save pdf: %w", err)
	}
	return nil
}

func awaitSettled(ctx context.Context, updates <-chan session.Snapshot, bar *ui.ProgressBar) (session.Snapshot, error) {
	defer bar.Hide()
	for {
		select {
		case <-ctx.Done():
			return session.Snapshot{}, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return session.Snapshot{}, session.ErrStopped
			}
			if snap.ShowProgress() {
				bar.Set(snap.Progress)
			}
			if snap.Status.Terminal() {
				return snap, nil
			}
		}
	}
}

func awaitDocument(ctx context.Context, updates <-chan session.Snapshot) (session.Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return session.Snapshot{}, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return session.Snapshot{}, session.ErrStopped
			}
			if snap.Page.Known() || snap.RenderError != "" {
				return snap, nil
			}
		}
	}
}

type pager struct {
	ctrl    *session.Controller
	doc     *render.Document
	display *ui.Display
	outDir  string
	scale   float64
}

// show writes the current page image and the controls. It reports false once the
// document turned out to be unrenderable.
func (p *pager) show(snap session.Snapshot) bool {
	path, err := p.writePage(snap.Page.Current)
	if err != nil {
		if rerr := p.ctrl.RenderFailed(snap.DocumentRef, err); rerr != nil {
			logger.Debug().Err(rerr).Msg("render failure not recorded")
		}
		p.display.RenderFallback(session.RenderFailureMessage)
		return false
	}
	p.display.Info("Page %d written to %s", snap.Page.Current, path)
	p.display.Controls(snap)
	return true
}

func (p *pager) writePage(page int) (string, error) {
	if err := os.MkdirAll(p.outDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(p.outDir, fmt.Sprintf("page-%03d.png", page))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := p.doc.WritePNG(f, page, p.scale); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (p *pager) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		var snap session.Snapshot
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "n", "next":
			snap = p.ctrl.GoTo(1)
		case "p", "prev", "previous":
			snap = p.ctrl.GoTo(-1)
		case "d", "download":
			p.display.Download(p.doc.Ref())
			continue
		case "q", "quit", "exit":
			return nil
		case "":
			continue
		default:
			p.display.Info("Commands: n (next), p (previous), d (download link), q (quit)")
			continue
		}
		if !p.show(snap) {
			return nil
		}
	}
	return scanner.Err()
}
