package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/spf13/cobra"
)

var (
	targetType    string
	likeFollow    bool
	commentParent string
	commentLimit  int
)

// likeCmd toggles the current user's like on a target
var likeCmd = &cobra.Command{
	Use:   "like <target-id>",
	Short: "Like or unlike an episode, post or comment",
	Args:  cobra.ExactArgs(1),
	RunE:  runLike,
}

// commentCmd groups comment subcommands
var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Post, list and delete comments",
}

var commentPostCmd = &cobra.Command{
	Use:   "post <target-id> <text>",
	Short: "Post a comment",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCommentPost,
}

var commentListCmd = &cobra.Command{
	Use:   "list <target-id>",
	Short: "List comments, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommentList,
}

var commentDeleteCmd = &cobra.Command{
	Use:   "delete <comment-id>",
	Short: "Delete your comment (moderators can delete any)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommentDelete,
}

func init() {
	likeCmd.Flags().StringVarP(&targetType, "type", "t", string(domain.TargetEpisode), "Target type: episode, post or comment")
	likeCmd.Flags().BoolVarP(&likeFollow, "follow", "f", false, "Keep printing live counts after toggling")

	for _, c := range []*cobra.Command{commentPostCmd, commentListCmd} {
		c.Flags().StringVarP(&targetType, "type", "t", string(domain.TargetEpisode), "Target type: episode, post or comment")
	}
	commentPostCmd.Flags().StringVar(&commentParent, "reply-to", "", "Parent comment id")
	commentListCmd.Flags().IntVarP(&commentLimit, "limit", "n", 50, "Number of comments")

	commentCmd.AddCommand(commentPostCmd)
	commentCmd.AddCommand(commentListCmd)
	commentCmd.AddCommand(commentDeleteCmd)
}

func printState(cmd *cobra.Command, st domain.InteractionState) {
	mark := " "
	if st.IsLiked {
		mark = "♥"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s:%s  %d likes  %d comments\n",
		mark, st.TargetType, st.TargetID, st.LikesCount, st.CommentsCount)
}

func runLike(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	t, err := target(args[0], targetType)
	if err != nil {
		return err
	}
	observer, err := app.Observer()
	if err != nil {
		return err
	}

	obs, err := observer.Observe(ctx, t)
	if err != nil {
		return err
	}
	defer obs.Close()

	st, err := obs.ToggleLike(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) {
			return fmt.Errorf("%w: run 'reelcast login' first", err)
		}
		return err
	}
	printState(cmd, st)

	if !likeFollow {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-obs.Changes():
			printState(cmd, st)
		}
	}
}

func runCommentPost(cmd *cobra.Command, args []string) error {
	t, err := target(args[0], targetType)
	if err != nil {
		return err
	}
	comments, err := app.Comments()
	if err != nil {
		return err
	}

	c, err := comments.Post(cmd.Context(), t, strings.Join(args[1:], " "), commentParent)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Posted comment %s\n", c.ID)
	return nil
}

func runCommentList(cmd *cobra.Command, args []string) error {
	t, err := target(args[0], targetType)
	if err != nil {
		return err
	}
	comments, err := app.Comments()
	if err != nil {
		return err
	}

	list, err := comments.List(cmd.Context(), t, commentLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No comments yet.")
		return nil
	}
	for _, c := range list {
		indent := ""
		if c.IsReply() {
			indent = "  ↳ "
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s  %s  %s\n",
			indent, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.ID, c.Content)
	}
	return nil
}

func runCommentDelete(cmd *cobra.Command, args []string) error {
	comments, err := app.Comments()
	if err != nil {
		return err
	}
	if err := comments.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
	return nil
}
