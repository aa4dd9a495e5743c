package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refset/civic-intake/internal/inbox"
	"github.com/refset/civic-intake/internal/pipeline"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Run one intake through the pipeline",
	Example: `  civic-intake intake --text "Streetlight broken near 5th Ave"
  civic-intake intake --file pothole.jpg --lang es`,
	RunE: runIntake,
}

func init() {
	intakeCmd.Flags().String("type", "document", "intake kind: voice, image or document")
	intakeCmd.Flags().String("text", "", "intake text (document) or data URI")
	intakeCmd.Flags().StringP("file", "f", "", "read intake from a file; kind follows the extension")
	intakeCmd.Flags().String("lang", "en", "resident language")
	intakeCmd.Flags().Bool("json", false, "print the result as JSON")
}

func runIntake(cmd *cobra.Command, _ []string) error {
	kind, _ := cmd.Flags().GetString("type")
	content, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")
	lang, _ := cmd.Flags().GetString("lang")
	asJSON, _ := cmd.Flags().GetBool("json")

	if file != "" {
		k, ok := inbox.KindFor(file)
		if !ok {
			return fmt.Errorf("unsupported file type: %s", file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if content, err = inbox.Content(file, k, data); err != nil {
			return err
		}
		kind = string(k)
	}
	if content == "" {
		return errors.New("one of --text or --file is required")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.Controller.RunPipeline(cmd.Context(), kind, content, lang)
	if asJSON {
		out := map[string]any{"result": res}
		if runErr != nil {
			out["error"] = runErr.Error()
			out["category"] = pipeline.CategoryOf(runErr)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return runErr
	}

	printResult(cmd, res, runErr)
	return runErr
}

func printResult(cmd *cobra.Command, res *pipeline.Result, runErr error) {
	w := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()

	if res != nil {
		fmt.Fprintf(w, "%s %s\n", bold("Job:"), res.JobID)
		fmt.Fprintf(w, "%s %s", bold("Department:"), green(res.Audit.Department.Department))
		if res.Audit.Department.SLAHours > 0 {
			fmt.Fprintf(w, " (%s, %dh SLA)", res.Audit.Department.ServiceCode, res.Audit.Department.SLAHours)
		}
		fmt.Fprintln(w)
		ex := res.Audit.Extracted
		fmt.Fprintf(w, "%s %s at %s, urgency %d, %s\n", bold("Issue:"), ex.IssueType, ex.Location, ex.Urgency, ex.Sentiment)
		fmt.Fprintf(w, "%s %.2f\n", bold("Confidence:"), res.Audit.Confidence)
		for _, stage := range res.Degraded {
			fmt.Fprintf(w, "%s %s used defaults\n", yellow("degraded:"), stage)
		}
		if res.Message != "" {
			fmt.Fprintf(w, "\n%s\n", res.Message)
		}
	}
	if runErr != nil {
		fmt.Fprintf(w, "%s [%s] %v\n", red("error:"), pipeline.CategoryOf(runErr), runErr)
	}
}
