package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moviebox/internal/app"
	"moviebox/internal/history"
)

var (
	historyTitle     string
	historyThumbnail string
	historyVideoURL  string
	historyDuration  int64
	continueLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and record watch history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched episodes, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			printHistory(a.History.Entries())
			return nil
		})
	},
}

var historyStartCmd = &cobra.Command{
	Use:   "start <series> <season> <episode>",
	Short: "Record that an episode started playing",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		season, episode, err := parseEpisode(args[1], args[2])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.History.Start(history.WatchHistoryEntry{
				SeriesID:     args[0],
				Season:       season,
				Episode:      episode,
				EpisodeTitle: historyTitle,
				Thumbnail:    historyThumbnail,
				VideoURL:     historyVideoURL,
				Duration:     historyDuration,
			})
		})
	},
}

var historyProgressCmd = &cobra.Command{
	Use:   "progress <series> <season> <episode> <fraction>",
	Short: "Update playback progress (0.0 - 1.0)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		season, episode, err := parseEpisode(args[1], args[2])
		if err != nil {
			return err
		}
		progress, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !a.History.UpdateProgress(args[0], season, episode, progress) {
				fmt.Println("no such history entry")
			}
			return nil
		})
	},
}

var historyContinueCmd = &cobra.Command{
	Use:   "continue",
	Short: "List episodes that are partly watched",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			printHistory(a.History.ContinueWatching(continueLimit))
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all watch history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.History.Clear()
			return nil
		})
	},
}

func init() {
	historyStartCmd.Flags().StringVar(&historyTitle, "title", "", "episode title")
	historyStartCmd.Flags().StringVar(&historyThumbnail, "thumbnail", "", "thumbnail URL")
	historyStartCmd.Flags().StringVar(&historyVideoURL, "url", "", "video URL")
	historyStartCmd.Flags().Int64Var(&historyDuration, "duration", 0, "duration in seconds")
	historyContinueCmd.Flags().IntVar(&continueLimit, "limit", 20, "maximum entries")

	historyCmd.AddCommand(historyListCmd, historyStartCmd, historyProgressCmd, historyContinueCmd, historyClearCmd)
}

func parseEpisode(season, episode string) (int, int, error) {
	s, err := strconv.Atoi(season)
	if err != nil {
		return 0, 0, fmt.Errorf("season: %w", err)
	}
	e, err := strconv.Atoi(episode)
	if err != nil {
		return 0, 0, fmt.Errorf("episode: %w", err)
	}
	return s, e, nil
}

func printHistory(entries []history.WatchHistoryEntry) {
	if len(entries) == 0 {
		fmt.Println("no history")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tEPISODE\tTITLE\tPROGRESS\tWATCHED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\tS%02dE%02d\t%s\t%3.0f%%\t%s\n",
			e.SeriesID, e.Season, e.Episode, e.EpisodeTitle,
			e.Progress*100,
			e.WatchedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}
