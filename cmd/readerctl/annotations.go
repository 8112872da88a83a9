package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/search"
)

var (
	kindFilter  []string
	searchLimit int
	clearYes    bool
)

// annotationsCmd is the parent command for annotation administration
var annotationsCmd = &cobra.Command{
	Use:   "annotations",
	Short: "List or clear a book's annotations",
	Long: `Manage the highlights, notes and bookmarks stored for a book.

Available subcommands:
  list  - Print a book's annotations, newest first
  clear - Remove a book's annotations`,
}

var annotationsListCmd = &cobra.Command{
	Use:   "list <book-key>",
	Short: "Print a book's annotations",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnotationsList,
}

var annotationsClearCmd = &cobra.Command{
	Use:   "clear <book-key>",
	Short: "Remove a book's annotations",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnotationsClear,
}

// searchCmd is the parent command for the annotation index
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query or rebuild the annotation index",
}

var searchQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search highlights and notes across the library",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchQuery,
}

var searchRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop the index and refill it from the store",
	Args:  cobra.NoArgs,
	RunE:  runSearchRebuild,
}

var searchBook string

func init() {
	annotationsCmd.PersistentFlags().StringSliceVarP(&kindFilter, "kind", "k", nil, "Only these kinds (highlight, note, bookmark)")
	annotationsClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")
	annotationsCmd.AddCommand(annotationsListCmd)
	annotationsCmd.AddCommand(annotationsClearCmd)

	searchQueryCmd.Flags().StringVarP(&searchBook, "book", "b", "", "Restrict to one book key")
	searchQueryCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum hits")
	searchQueryCmd.Flags().StringSliceVarP(&kindFilter, "kind", "k", nil, "Only these kinds (highlight, note)")
	searchCmd.AddCommand(searchQueryCmd)
	searchCmd.AddCommand(searchRebuildCmd)
}

func parseKindFilter() ([]domain.AnnotationKind, error) {
	kinds := make([]domain.AnnotationKind, 0, len(kindFilter))
	for _, raw := range kindFilter {
		k, err := domain.ParseKind(raw)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func runAnnotationsList(cmd *cobra.Command, args []string) error {
	kinds, err := parseKindFilter()
	if err != nil {
		return err
	}
	e, err := openEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	anns, err := e.store.ListForBook(cmd.Context(), args[0], kinds...)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(anns)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tLOCATION\tTEXT")
	for _, a := range anns {
		text := a.Text
		if a.Kind == domain.KindNote {
			text = a.Body
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Kind, a.Location, truncate(text, 60))
	}
	return tw.Flush()
}

func runAnnotationsClear(cmd *cobra.Command, args []string) error {
	kinds, err := parseKindFilter()
	if err != nil {
		return err
	}
	if !clearYes {
		fmt.Printf("Remove annotations of %s? [y/N] ", args[0])
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	e, err := openEnv(true)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.store.RemoveAllForBook(cmd.Context(), args[0], kinds...)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d annotations\n", n)
	return nil
}

func runSearchQuery(cmd *cobra.Command, args []string) error {
	e, err := openEnv(true)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.index.Search(cmd.Context(), search.SearchParams{
		Query:   args[0],
		BookKey: searchBook,
		Kinds:   kindFilter,
		Limit:   searchLimit,
	})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(res)
	}

	fmt.Printf("%d hits for %q (%dms)\n", res.Total, res.Query, res.TookMs)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, h := range res.Hits {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", h.ID, h.BookKey, h.Kind, h.Score)
	}
	return tw.Flush()
}

func runSearchRebuild(cmd *cobra.Command, args []string) error {
	e, err := openEnv(true)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.index.Rebuild(cmd.Context(), e.store)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d annotations\n", n)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
