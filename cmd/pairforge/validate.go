package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lamim/pairforge/internal/dataset"
)

var skipTokenCheck bool

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dataset]",
		Short: "Audit a dataset file",
		Long: `Check that every scenario has its four records in order, that scenario ids
are contiguous from 0 and that both framed pairs still pass the token check.
Defaults to the configured task's dataset.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
	cmd.Flags().BoolVar(&skipTokenCheck, "skip-token-check", false, "Only check structure; do not load tokenizers")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	path := a.ws.DatasetPath()
	if len(args) == 1 {
		path = args[0]
	}

	var v dataset.PairValidator
	if !skipTokenCheck {
		tv, err := a.newValidator()
		if err != nil {
			return err
		}
		v = tv
	}

	report, err := dataset.Audit(path, v, a.logger.With("component", "audit"))
	if err != nil {
		return err
	}

	fmt.Printf("Dataset: %s\n", path)
	fmt.Printf("  Records:    %d\n", report.Records)
	fmt.Printf("  Scenarios:  %d\n", report.Scenarios)
	for task, n := range report.Tasks {
		fmt.Printf("    %-12s %d\n", task, n)
	}
	fmt.Printf("  Bad lines:  %d\n", report.BadLines)
	fmt.Printf("  Incomplete: %d %v\n", len(report.Incomplete), head(report.Incomplete))
	fmt.Printf("  Id gaps:    %d %v\n", len(report.Gaps), head(report.Gaps))
	fmt.Printf("  Invalid:    %d\n", len(report.Invalid))
	for _, f := range report.Invalid[:min(len(report.Invalid), 10)] {
		fmt.Printf("    scenario %d: %s under %s (%s)\n", f.ScenarioID, f.Result.Reason, f.Result.Tokenizer, f.Variant)
	}

	if !report.OK() {
		return fmt.Errorf("dataset failed validation")
	}
	fmt.Println("Dataset is valid.")
	return nil
}

// head returns at most the first ten ids for display
func head(ids []int) []int {
	return ids[:min(len(ids), 10)]
}
