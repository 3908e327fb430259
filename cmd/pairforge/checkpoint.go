package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
)

func newCheckpointCmd() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect checkpoints",
		Long:  "Inspect generation checkpoints. Runs resume automatically from the task's checkpoint.",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints of every task in the work directory",
		Args:  cobra.NoArgs,
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the configured task's checkpoint",
		Args:  cobra.NoArgs,
		RunE:  inspectCheckpoint,
	}

	checkpointCmd.AddCommand(listCmd, inspectCmd)
	return checkpointCmd
}

// quietLogger keeps checkpoint loading out of command output
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	entries, err := os.ReadDir(cfg.Generation.WorkDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No work directory found. Run a generation first.")
			return nil
		}
		return fmt.Errorf("failed to read work directory: %w", err)
	}

	var data [][]string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cp, err := checkpoint.Load(filepath.Join(cfg.Generation.WorkDir, entry.Name()), quietLogger())
		if errors.Is(err, checkpoint.ErrNoCheckpoint) {
			continue
		}
		if err != nil {
			data = append(data, []string{entry.Name(), "unreadable", "-", "-", err.Error()})
			continue
		}
		data = append(data, []string{
			entry.Name(),
			fmt.Sprint(cp.NextScenarioID),
			fmt.Sprint(cp.Attempts),
			fmt.Sprintf("$%.4f", cp.CostAccumulator),
			cp.SessionID,
		})
	}

	if len(data) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"TASK", "SCENARIOS", "CANDIDATES", "COST", "SESSION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dir := filepath.Join(cfg.Generation.WorkDir, cfg.Generation.Task)
	cp, err := checkpoint.Load(dir, quietLogger())
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		fmt.Printf("No checkpoint for task %s in %s\n", cfg.Generation.Task, dir)
		return nil
	}
	if err != nil {
		return err
	}

	compatible := "yes"
	if err := checkpoint.ValidateCheckpoint(cp, cfg); err != nil {
		compatible = "no: " + err.Error()
	}

	target := cfg.Generation.TargetScenarios
	rows := [][]string{
		{"Task", cp.Task},
		{"Session ID", cp.SessionID},
		{"Config hash", cp.ConfigHash},
		{"Compatible", compatible},
		{"Mode", cp.Mode},
		{"Batch responses", fmt.Sprint(len(cp.Responses))},
		{"Next scenario id", fmt.Sprint(cp.NextScenarioID)},
		{"Progress", fmt.Sprintf("%d / %d (%.1f%%)", checkpoint.GetCompletedCount(cp), target,
			checkpoint.GetProgressPercentage(cp, target))},
		{"Candidates", fmt.Sprint(cp.Attempts)},
		{"Rejected", fmt.Sprint(cp.Rejected)},
		{"Tokens", fmt.Sprint(cp.TotalTokens)},
		{"Cost", fmt.Sprintf("$%.4f", cp.CostAccumulator)},
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	return nil
}
