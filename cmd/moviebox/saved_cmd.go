package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moviebox/internal/app"
	"moviebox/internal/reconcile"
	"moviebox/internal/saved"
)

var (
	savedSort string
	savedWait bool
)

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved titles",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved titles",
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := saved.ParseSortOrder(savedSort)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if savedWait {
				a.Sync.Wait()
			}
			printStatus(a.Sync.Status())
			printSaved(a.MovieBox.Sorted(order))
			return nil
		})
	},
}

var savedAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Save a title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			item := saved.SavedItem{ID: args[0]}
			if detail, err := a.Enricher.Detail(ctx, args[0]); err == nil {
				item = saved.FromMovie(*detail)
			} else {
				a.Logger.Warn().Err(err).Str("id", args[0]).Msg("detail unavailable, saving id only")
			}

			if !a.Sync.Save(item) {
				fmt.Printf("%s is already saved\n", args[0])
				return nil
			}
			fmt.Printf("saved %s\n", label(item))
			return nil
		})
	},
}

var savedRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a saved title",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !a.Sync.Remove(args[0]) {
				fmt.Printf("%s is not saved\n", args[0])
				return nil
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		})
	},
}

var savedSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile saved titles with the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Sync.Wait()
			if err := a.Sync.Sync(ctx); err != nil {
				printStatus(a.Sync.Status())
				return err
			}
			if err := a.Sync.Drain(ctx); err != nil {
				return err
			}
			printStatus(a.Sync.Status())
			return nil
		})
	},
}

func init() {
	savedListCmd.Flags().StringVar(&savedSort, "sort", "date", "sort order: date, title or rating")
	savedListCmd.Flags().BoolVar(&savedWait, "wait", false, "wait for the background load before listing")

	savedCmd.AddCommand(savedListCmd, savedAddCmd, savedRemoveCmd, savedSyncCmd)
}

func label(item saved.SavedItem) string {
	if item.Title == "" {
		return item.ID
	}
	return fmt.Sprintf("%s (%s)", item.Title, item.ID)
}

func printSaved(items []saved.SavedItem) {
	if len(items) == 0 {
		fmt.Println("no saved titles")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tYEAR\tRATING\tTYPE\tCATEGORIES\tADDED")
	for _, it := range items {
		kind := "movie"
		if it.IsSeries {
			kind = "series"
		}
		added := "-"
		if !it.AddedAt.IsZero() {
			added = it.AddedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Title, it.Year, it.Rating, kind,
			strings.Join(it.Categories, ","),
			added,
		)
	}
	w.Flush()
}

func printStatus(st reconcile.Status) {
	line := fmt.Sprintf("sync: %s", st.State)
	if st.UserID != "" {
		line += " user=" + st.UserID
	}
	if st.State == reconcile.StateError {
		line += fmt.Sprintf(" kind=%s err=%v", st.ErrorKind, st.Err)
	}
	if n := st.PendingAdds + st.PendingRemoves; n > 0 {
		line += fmt.Sprintf(" pending=%d", n)
	}
	fmt.Fprintln(os.Stderr, line)
}
