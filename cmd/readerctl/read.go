package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/service"
	"github.com/alexandriaapp/alexandria-server/internal/theme"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

var readOpts struct {
	width      int
	height     int
	fontSize   int
	fontFamily string
	textAlign  string
	theme      string
	at         string
}

// readCmd pages through a book in a headless reader
var readCmd = &cobra.Command{
	Use:   "read <book-key>",
	Short: "Page through a book in a headless reader",
	Long: `Read opens the book at its saved progress and takes one command per line:

  n, next              next page
  p, prev              previous page
  g, goto <cfi>        jump to a location
  h, highlight <cfi>   highlight a range on the page
  b, bookmark          toggle a bookmark on the page
  q, quit              save progress and exit`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().IntVar(&readOpts.width, "width", 800, "Viewport width")
	readCmd.Flags().IntVar(&readOpts.height, "height", 1000, "Viewport height")
	readCmd.Flags().IntVar(&readOpts.fontSize, "font-size", 100, "Font size percent")
	readCmd.Flags().StringVar(&readOpts.fontFamily, "font-family", "georgia", "Font family (lexend, georgia, helvetica, times)")
	readCmd.Flags().StringVar(&readOpts.textAlign, "text-align", "left", "Text alignment (left, justify, center)")
	readCmd.Flags().StringVar(&readOpts.theme, "theme", theme.DefaultName, "Theme preset")
	readCmd.Flags().StringVar(&readOpts.at, "at", "", "Start at this location instead of the saved progress")
}

func runRead(cmd *cobra.Command, args []string) error {
	themes, err := theme.Load("")
	if err != nil {
		return err
	}
	display, err := themes.DisplayOptions(readOpts.fontSize, readOpts.fontFamily, readOpts.textAlign, readOpts.theme)
	if err != nil {
		return err
	}

	e, err := openEnv(true)
	if err != nil {
		return err
	}
	defer e.close()

	cache, err := images.NewCache(dataPath)
	if err != nil {
		return err
	}
	rec := reconcile.New(e.store, e.log, 0)
	defer rec.Close()
	preview := service.NewPreviewService(
		service.NewBookService(e.store, cache, e.log),
		e.store,
		rec,
		nil,
		validation.New(),
		service.PreviewConfig{Width: readOpts.width, Height: readOpts.height},
		e.log,
	)
	defer preview.Stop()

	ctx := cmd.Context()
	v, err := preview.Create(ctx, args[0], display, location.Location(readOpts.at))
	if err != nil {
		return err
	}
	return readLoop(ctx, preview, v, os.Stdin, os.Stdout)
}

// readLoop applies commands from in until quit or end of input.
func readLoop(ctx context.Context, preview *service.PreviewService, v *service.PreviewView, in io.Reader, out io.Writer) error {
	printPage(out, v)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		var (
			next *service.PreviewView
			err  error
		)
		switch verb {
		case "":
			continue
		case "n", "next":
			next, err = preview.Navigate(ctx, v.ID, service.NavigateRequest{Action: service.NavigateNext})
		case "p", "prev":
			next, err = preview.Navigate(ctx, v.ID, service.NavigateRequest{Action: service.NavigatePrev})
		case "g", "goto":
			next, err = preview.Navigate(ctx, v.ID, service.NavigateRequest{Action: service.NavigateGoTo, Location: location.Location(arg)})
		case "h", "highlight":
			next, _, err = preview.Select(ctx, v.ID, service.SelectRequest{Range: location.Location(arg), Action: service.SelectHighlight})
		case "b", "bookmark":
			next, _, err = preview.ToggleBookmark(ctx, v.ID)
		case "q", "quit":
			return preview.Delete(ctx, v.ID)
		default:
			fmt.Fprintf(out, "unknown command %q\n", verb)
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		v = next
		printPage(out, v)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return preview.Delete(ctx, v.ID)
}

func printPage(out io.Writer, v *service.PreviewView) {
	fmt.Fprintf(out, "\n── %s ──\n", v.Position.Label)
	for _, p := range v.Paragraphs {
		var b strings.Builder
		for _, seg := range p.Segments {
			if len(seg.Classes) > 0 {
				b.WriteString("[" + seg.Text + "]")
			} else {
				b.WriteString(seg.Text)
			}
		}
		fmt.Fprintln(out, b.String())
	}
	for _, t := range v.Toasts {
		fmt.Fprintf(out, "(%s)\n", t.Description)
	}
	if v.Progress != nil {
		fmt.Fprintf(out, "%.1f%%\n", v.Progress.Percentage)
	}
}
