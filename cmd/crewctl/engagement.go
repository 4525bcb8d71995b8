package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var reviseFeedback string

func init() {
	reviseCmd.Flags().StringVar(&reviseFeedback, "feedback", "", "what the agents should change (required)")
	_ = reviseCmd.MarkFlagRequired("feedback")

	chatCmd.AddCommand(chatListCmd)
	chatCmd.AddCommand(chatPostCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <project-id> <phase>",
	Short: "Approve a submitted phase",
	Long: `Approve a phase that is awaiting customer approval.

Examples:
  crewctl approve --owner alice 7c9e... DISCOVERY`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/v1/projects/%s/phases/%s/approve", args[0], args[1])
		if err := doJSON(http.MethodPost, path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("Phase %s approved.\n", args[1])
		return nil
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <project-id> <phase>",
	Short: "Request revision of a submitted phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/v1/projects/%s/phases/%s/revise", args[0], args[1])
		req := map[string]string{"feedback": reviseFeedback}
		if err := doJSON(http.MethodPost, path, req, nil); err != nil {
			return err
		}
		fmt.Printf("Revision of phase %s requested.\n", args[1])
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <project-id> <interrupt-id> <response>",
	Short: "Answer a question raised by the agents",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/v1/projects/%s/interrupts/%s/answer", args[0], args[1])
		req := map[string]string{"response": args[2]}
		if err := doJSON(http.MethodPost, path, req, nil); err != nil {
			return err
		}
		fmt.Println("Answer recorded. The agents will resume shortly.")
		return nil
	},
}

var boardCmd = &cobra.Command{
	Use:   "board <project-id>",
	Short: "Show the project's task board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tasks []struct {
			ID         string `json:"id"`
			Phase      string `json:"phase"`
			Title      string `json:"title"`
			Status     string `json:"status"`
			AssignedTo string `json:"assigned_to"`
		}
		if err := doJSON(http.MethodGet, "/api/v1/projects/"+args[0]+"/board", nil, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks yet.")
			return nil
		}
		for _, task := range tasks {
			fmt.Printf("[%s] %-12s %-30s %s (%s)\n",
				task.Phase, task.Status, task.Title, task.AssignedTo, task.ID)
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read or post to the project chat",
}

var chatListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "Show project chat messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var messages []struct {
			Author    string    `json:"author"`
			Content   string    `json:"content"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := doJSON(http.MethodGet, "/api/v1/projects/"+args[0]+"/chat", nil, &messages); err != nil {
			return err
		}

		for _, msg := range messages {
			fmt.Printf("%s %s: %s\n", msg.Timestamp.Format(time.RFC3339), msg.Author, msg.Content)
		}
		return nil
	},
}

var chatPostCmd = &cobra.Command{
	Use:   "post <project-id> <message>",
	Short: "Post a chat message as the owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ownerID == "" {
			return fmt.Errorf("--owner is required")
		}
		req := map[string]string{"author": ownerID, "content": args[1]}
		if err := doJSON(http.MethodPost, "/api/v1/projects/"+args[0]+"/chat", req, nil); err != nil {
			return err
		}
		fmt.Println("Message posted.")
		return nil
	},
}
