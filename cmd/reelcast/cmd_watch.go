package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/spf13/cobra"
)

// progressCmd records how far an episode was watched
var progressCmd = &cobra.Command{
	Use:   "progress <episode-id> <position> <duration>",
	Short: "Record watch progress",
	Long: `Record watch progress for an episode.

Position and duration accept seconds (95) or durations (1m35s).`,
	Args: cobra.ExactArgs(3),
	RunE: runProgress,
}

// continueCmd lists partially watched episodes
var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "List episodes to continue watching",
	Args:  cobra.NoArgs,
	RunE:  runContinue,
}

// forgetCmd removes an episode from the continue watching list
var forgetCmd = &cobra.Command{
	Use:   "forget <episode-id>",
	Short: "Remove an episode from continue watching",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

// parseSeconds accepts "95", "95.5" or "1m35s"
func parseSeconds(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a duration", domain.ErrInvalidInput, s)
	}
	return d, nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	position, err := parseSeconds(args[1])
	if err != nil {
		return err
	}
	duration, err := parseSeconds(args[2])
	if err != nil {
		return err
	}

	tracker, err := app.Tracker()
	if err != nil {
		return err
	}
	if _, err := tracker.Record(cmd.Context(), args[0], position.Seconds(), duration.Seconds()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s of %s\n", position, duration)
	return nil
}

func runContinue(cmd *cobra.Command, args []string) error {
	tracker, err := app.Tracker()
	if err != nil {
		return err
	}
	list, err := tracker.ContinueWatching(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to continue.")
		return nil
	}

	feedSvc, err := app.Feed()
	if err != nil {
		return err
	}
	for _, wp := range list {
		title := wp.EpisodeID
		if ep, err := feedSvc.Get(cmd.Context(), wp.EpisodeID); err == nil {
			title = ep.Title
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %3d%%  %s\n",
			wp.EpisodeID, wp.PercentWatched(), title)
	}
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	tracker, err := app.Tracker()
	if err != nil {
		return err
	}
	if err := tracker.Remove(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Removed.")
	return nil
}
