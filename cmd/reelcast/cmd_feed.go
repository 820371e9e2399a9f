package main

import (
	"fmt"
	"strings"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/reelcast/reelcast/internal/feed"
	"github.com/reelcast/reelcast/internal/loader"
	"github.com/reelcast/reelcast/internal/service"
	"github.com/spf13/cobra"
)

var (
	feedLimit  int
	playResume bool
)

// feedCmd lists the latest episodes, optionally fuzzy-filtered by title
var feedCmd = &cobra.Command{
	Use:   "feed [query]",
	Short: "List the latest episodes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFeed,
}

// playCmd plays an episode in the external player
var playCmd = &cobra.Command{
	Use:   "play <episode-id>",
	Short: "Play an episode",
	Long: `Play an episode in the configured player.

The first part of the video is fetched and cached first, then the rest.
Cached videos play without touching the network. The command keeps running
to serve the video to the player; press Ctrl-C when done.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	feedCmd.Flags().IntVarP(&feedLimit, "limit", "n", 50, "Number of episodes to fetch")
	playCmd.Flags().BoolVarP(&playResume, "resume", "r", false, "Resume from the saved position")
}

func runFeed(cmd *cobra.Command, args []string) error {
	svc, err := app.Feed()
	if err != nil {
		return err
	}

	episodes, err := svc.Latest(cmd.Context(), feedLimit)
	if err != nil {
		return err
	}

	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	matches := feed.Filter(episodes, query)
	if len(matches) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No episodes match %q.\n", query)
		if suggestions := feed.Suggest(episodes, query); len(suggestions) > 0 {
			titles := make([]string, len(suggestions))
			for i, ep := range suggestions {
				titles[i] = ep.Title
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Did you mean: %s?\n", strings.Join(titles, ", "))
		}
		return nil
	}

	for _, m := range matches {
		printEpisode(cmd, m.Episode)
	}
	return nil
}

func printEpisode(cmd *cobra.Command, ep domain.Episode) {
	fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %6s  %6d views  %s\n",
		ep.ID, ep.FormattedDuration(), ep.ViewsCount, ep.Title)
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := app.Feed()
	if err != nil {
		return err
	}
	ep, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}

	playback, err := app.Playback()
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	onChange := func(st loader.State) {
		fmt.Fprintf(out, "\r%-8s %3d%%", st.Phase, st.Progress)
	}

	var pb *service.Playback
	if playResume {
		pb, err = playback.Resume(ctx, ep, onChange)
	} else {
		pb, err = playback.Play(ctx, ep, onChange)
	}
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	defer pb.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Playing %s", ep.Title)
	if pb.Offset > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " from %s", pb.Offset)
	}
	fmt.Fprintln(cmd.OutOrStdout(), " (Ctrl-C to stop serving)")

	<-ctx.Done()
	return nil
}
