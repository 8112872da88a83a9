package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexandriaapp/alexandria-server/internal/library"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
)

// scanCmd loads a directory of EPUBs into the catalog
var scanCmd = &cobra.Command{
	Use:   "scan <books-dir>",
	Short: "Load the EPUBs under a directory into the catalog",
	Long: `Scan walks the directory, loads every .epub whose size or modification time changed,
caches its cover, and drops catalog entries for files that disappeared from it.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// booksCmd lists the catalog
var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List the catalog",
	Args:  cobra.NoArgs,
	RunE:  runBooks,
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	cache, err := images.NewCache(dataPath)
	if err != nil {
		return err
	}
	lib := library.New(args[0], e.store, images.NewProcessor(cache, e.log), nil, e.log)

	res, err := lib.Scan(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(res)
	}
	fmt.Printf("added %d, updated %d, unchanged %d, removed %d, failed %d\n",
		res.Added, res.Updated, res.Unchanged, res.Removed, res.Failed)
	return nil
}

func runBooks(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	books, err := e.store.ListBooks(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(books)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTITLE\tAUTHORS\tSECTIONS")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", b.Key, b.Title, strings.Join(b.Authors, ", "), b.SpineLength)
	}
	return tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
