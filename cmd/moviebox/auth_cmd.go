package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"moviebox/internal/app"
	"moviebox/internal/saved"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and load saved titles from the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.Session.Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			a.Sync.Wait()
			fmt.Printf("signed in as %s (%s)\n", s.Name, s.UserID)
			printStatus(a.Sync.Status())
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out; local data is kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Sync.Wait()
			return a.Session.Logout(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Sync.Wait()
			s := a.Session.Current()
			if s.SignedIn() {
				fmt.Printf("signed in as %s (%s) since %s\n", s.Name, s.UserID, s.SignedInAt.Local().Format("2006-01-02 15:04"))
			} else {
				fmt.Println("signed out")
			}
			printStatus(a.Sync.Status())

			st := a.Enricher.CacheStats()
			fmt.Printf("saved: %d  history: %d  detail cache: %d hits / %d misses\n",
				a.MovieBox.Len(), len(a.History.Entries()), st.Hits, st.Misses)
			return nil
		})
	},
}

var peopleCmd = &cobra.Command{
	Use:   "person <id>",
	Short: "List titles featuring a person",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			movies, err := a.Client.ListMoviesByPerson(ctx, args[0])
			if err != nil {
				return err
			}
			items := make([]saved.SavedItem, 0, len(movies))
			for _, m := range movies {
				items = append(items, saved.FromMovie(m))
			}
			printSaved(items)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prompted when empty)")
}
