package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyJSON   bool
	historyDelete bool
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [search-id]",
		Short: "List past searches or show one in detail",
		Long: `Without arguments, list recent searches (newest first).
With a search id, print that run's results; --delete removes it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum searches to list (0 = all)")
	cmd.Flags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	cmd.Flags().BoolVar(&historyDelete, "delete", false, "Delete the given search")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", historyLimit)
	}
	if historyDelete && len(args) == 0 {
		return fmt.Errorf("--delete needs a search id")
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}
	defer svc.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id := args[0]
		if historyDelete {
			if err := svc.DeleteSearch(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted search %s\n", id)
			return nil
		}

		rec, err := svc.GetSearch(ctx, id)
		if err != nil {
			return err
		}
		if historyJSON {
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintf(out, "%s\n", data)
			return nil
		}

		fmt.Fprintf(out, "Search %s (%s, %s)\n", rec.ID, rec.State, humanize.Time(rec.StartedAt))
		fmt.Fprintf(out, "Reference: %s\nLibrary:   %s\n", rec.Request.ReferencePath, rec.Request.RootDir)
		if rec.Error != "" {
			fmt.Fprintf(out, "Error:     %s\n", rec.Error)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "\nRANK\tSCORE\tPATH\n")
		for i, m := range rec.Results {
			fmt.Fprintf(tw, "%d\t%.4f\t%s\n", i+1, m.Score, m.Path)
		}
		return tw.Flush()
	}

	recs, err := svc.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
		return nil
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No searches recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tWHEN\tSTATE\tRESULTS\tREFERENCE\n")
	fmt.Fprintf(tw, "--\t----\t-----\t-------\t---------\n")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, humanize.Time(r.StartedAt), r.State, len(r.Results), truncate(r.Request.ReferencePath, 50))
	}
	return tw.Flush()
}
