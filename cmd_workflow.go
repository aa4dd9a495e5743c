package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refset/civic-intake/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage the intake workflow definition",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register the intake workflow and print its id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Orchestrator.CreateWorkflowDefinition(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the workflow definition without registering it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(workflow.CivicIntakeDefinition(cfg.Workflow.AppBaseURL))
	},
}

func init() {
	workflowCmd.AddCommand(workflowCreateCmd)
	workflowCmd.AddCommand(workflowShowCmd)
}
