package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/pkg/types"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List stored chats",
	Long: `List stored chats, most recently updated first.

Examples:
  sona chats
  sona chats show 01J...
  sona chats delete 01J...`,
	RunE: runChatsList,
}

var chatsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsShow,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete chats",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChatsDelete,
}

func init() {
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
}

func runChatsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	chats, err := a.chats.ListChats(cmd.Context())
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No chats.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tMESSAGES\tTOKENS\tTITLE\t")
	for _, c := range chats {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t\n",
			c.ID,
			time.UnixMilli(c.Updated).Format(time.DateTime),
			c.MessageCount,
			c.TokenUsage.Input,
			c.TokenUsage.Output,
			c.Title,
		)
	}
	return w.Flush()
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	messages, err := a.chats.LoadMessages(ctx, args[0])
	if err != nil {
		return err
	}
	usage, err := a.chats.LoadTokenUsage(ctx, args[0])
	if err != nil {
		return err
	}

	newRenderer(cmd.OutOrStdout()).Render(types.ChatSession{
		ChatID:     args[0],
		Messages:   messages,
		TokenUsage: usage,
	})
	fmt.Fprintln(cmd.OutOrStdout(), dimColor.Sprintf("tokens: %d in, %d out", usage.Input, usage.Output))
	return nil
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.chats.DeleteChat(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}
