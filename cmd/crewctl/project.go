package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectName     string
	projectCustomer string
	projectSOWPath  string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage engagement projects",
}

func init() {
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectStatusCmd)
	projectCmd.AddCommand(projectDeliverablesCmd)

	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectCustomer, "customer", "", "customer name")
	projectCreateCmd.Flags().StringVar(&projectSOWPath, "sow", "", "path to a statement of work file")
	_ = projectCreateCmd.MarkFlagRequired("name")
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project and start its engagement",
	Long: `Create a project ledger and start the engagement workflow.

Examples:
  # Create a project
  crewctl project create --owner alice --name "Data Lake" --customer "Acme Corp"

  # Attach a statement of work
  crewctl project create --owner alice --name "Data Lake" --sow ./sow.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ownerID == "" {
			return fmt.Errorf("--owner is required")
		}

		sow := ""
		if projectSOWPath != "" {
			content, err := os.ReadFile(projectSOWPath)
			if err != nil {
				return fmt.Errorf("failed to read sow file %s: %w", projectSOWPath, err)
			}
			sow = string(content)
		}

		req := map[string]string{
			"name":     projectName,
			"customer": projectCustomer,
			"owner_id": ownerID,
			"sow":      sow,
		}
		var resp struct {
			ProjectID string `json:"project_id"`
		}
		if err := doJSON(http.MethodPost, "/api/v1/projects", req, &resp); err != nil {
			return err
		}

		fmt.Printf("Project created: %s\n", resp.ProjectID)
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's current phase and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			ProjectID    string `json:"project_id"`
			ProjectName  string `json:"project_name"`
			Customer     string `json:"customer"`
			CurrentPhase string `json:"current_phase"`
			PhaseStatus  string `json:"phase_status"`
		}
		if err := doJSON(http.MethodGet, "/api/v1/projects/"+args[0]+"/status", nil, &resp); err != nil {
			return err
		}

		fmt.Printf("Project:  %s (%s)\n", resp.ProjectName, resp.ProjectID)
		fmt.Printf("Customer: %s\n", resp.Customer)
		fmt.Printf("Phase:    %s (%s)\n", resp.CurrentPhase, resp.PhaseStatus)
		return nil
	},
}

var projectDeliverablesCmd = &cobra.Command{
	Use:   "deliverables <project-id>",
	Short: "List a project's deliverables by phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string][]struct {
			Name          string `json:"name"`
			StoragePath   string `json:"storage_path"`
			VersionStatus string `json:"version_status"`
		}
		if err := doJSON(http.MethodGet, "/api/v1/projects/"+args[0]+"/deliverables", nil, &resp); err != nil {
			return err
		}

		if len(resp) == 0 {
			fmt.Println("No deliverables yet.")
			return nil
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render deliverables: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
