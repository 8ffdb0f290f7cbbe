package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"moviebox/internal/app"
	"moviebox/internal/preferences"
)

var (
	notifyEnabled         bool
	notifyNewEpisodes     bool
	notifyRecommendations bool
	notifyQuietStart      string
	notifyQuietEnd        string
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change preferences",
}

var themeCmd = &cobra.Command{
	Use:   "theme [light|dark|system]",
	Short: "Show or set the theme",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode preferences.ThemeMode
		if len(args) == 1 {
			m, err := preferences.ParseThemeMode(args[0])
			if err != nil {
				return err
			}
			mode = m
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if mode != "" {
				if err := a.Theme.SetMode(mode); err != nil {
					return err
				}
			}
			fmt.Println(a.Theme.Mode())
			return nil
		})
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show or change notification settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			settings, err := a.Notifications.Update(func(n *preferences.NotificationSettings) {
				if flags.Changed("enabled") {
					n.Enabled = notifyEnabled
				}
				if flags.Changed("new-episodes") {
					n.NewEpisodes = notifyNewEpisodes
				}
				if flags.Changed("recommendations") {
					n.Recommendations = notifyRecommendations
				}
				if flags.Changed("quiet-start") {
					n.QuietHoursStart = notifyQuietStart
				}
				if flags.Changed("quiet-end") {
					n.QuietHoursEnd = notifyQuietEnd
				}
			})
			if err != nil {
				return err
			}

			fmt.Printf("enabled:         %t\n", settings.Enabled)
			fmt.Printf("new episodes:    %t\n", settings.NewEpisodes)
			fmt.Printf("recommendations: %t\n", settings.Recommendations)
			if settings.QuietHoursStart != "" {
				fmt.Printf("quiet hours:     %s-%s\n", settings.QuietHoursStart, settings.QuietHoursEnd)
			}
			return nil
		})
	},
}

func init() {
	f := notificationsCmd.Flags()
	f.BoolVar(&notifyEnabled, "enabled", true, "enable notifications")
	f.BoolVar(&notifyNewEpisodes, "new-episodes", true, "notify about new episodes")
	f.BoolVar(&notifyRecommendations, "recommendations", false, "notify about recommendations")
	f.StringVar(&notifyQuietStart, "quiet-start", "", "quiet hours start (HH:MM), empty to clear")
	f.StringVar(&notifyQuietEnd, "quiet-end", "", "quiet hours end (HH:MM), empty to clear")

	prefsCmd.AddCommand(themeCmd, notificationsCmd)
}
