package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/lettercache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Letter cache commands",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached letters",
	RunE:  runCacheList,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a cached letter",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Remove one cached letter, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheShowCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(readOnly bool) (*lettercache.Cache, func(), error) {
	_, store, err := openStore(readOnly)
	if err != nil {
		return nil, nil, err
	}

	c, err := lettercache.New(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open letter cache: %w", err)
	}
	return c, func() { store.Close() }, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openCache(true)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := c.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Letter cache is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tCOMPANY\tCATEGORY\tCHARS\tCREATED")
	fmt.Fprintln(w, "---\t-------\t--------\t-----\t-------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncate(e.Key, 40),
			truncate(dash(e.Company), 30),
			dash(e.Category),
			len([]rune(e.Text)),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\n%d cached letters\n", len(entries))
	return nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openCache(true)
	if err != nil {
		return err
	}
	defer closeFn()

	e, err := c.Lookup(cmd.Context(), args[0])
	if errors.Is(err, lettercache.ErrNotFound) {
		return fmt.Errorf("no cached letter for key %q", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	fmt.Printf("Key:      %s\n", e.Key)
	fmt.Printf("Company:  %s\n", dash(e.Company))
	fmt.Printf("City:     %s\n", dash(e.City))
	fmt.Printf("Category: %s\n", dash(e.Category))
	fmt.Printf("Created:  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Println(e.Text)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openCache(false)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 1 {
		if err := c.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, lettercache.ErrNotFound) {
				return fmt.Errorf("no cached letter for key %q", args[0])
			}
			return fmt.Errorf("failed to delete cached letter: %w", err)
		}
		fmt.Printf("Removed cached letter %s\n", args[0])
		return nil
	}

	n, err := c.Clear(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Printf("Removed %d cached letters\n", n)
	return nil
}
