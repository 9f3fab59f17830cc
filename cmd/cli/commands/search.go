package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/mast/pkg/mast/ranking"
	"github.com/himanishpuri/mast/pkg/mast/search"
	"github.com/himanishpuri/mast/pkg/models"
)

var (
	searchThreshold  float64
	searchMaxResults int
	searchMetric     string
	searchExport     string
	searchJSON       bool
	searchNoProgress bool
)

// NewSearchCmd creates the search command
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <reference> [library]",
		Short: "Find library tracks similar to a reference",
		Long: `Scan a library directory recursively and rank every supported audio file
by its distance to the reference track (0 = identical).

The library defaults to default_directory from the settings file.

Examples:
  mast search ref.wav ~/Music
  mast search --threshold 0.3 --max-results 10 ref.flac
  mast search --export results.csv ref.mp3 ~/Music`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSearch,
	}

	cmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0.5, "Maximum accepted distance (lower is stricter)")
	cmd.Flags().IntVarP(&searchMaxResults, "max-results", "n", 50, "Keep at most this many results")
	cmd.Flags().StringVar(&searchMetric, "metric", "cosine", "Distance metric: cosine or euclidean")
	cmd.Flags().StringVarP(&searchExport, "export", "o", "", `Write results to a CSV file ("auto" picks a timestamped name)`)
	cmd.Flags().BoolVar(&searchJSON, "json", false, "Print the outcome as JSON")
	cmd.Flags().BoolVar(&searchNoProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

func buildSearchRequest(cmd *cobra.Command, args []string) (models.SearchRequest, error) {
	req := search.NewRequest(args[0], settings.DefaultDirectory)
	if len(args) == 2 {
		req.RootDir = args[1]
	}
	if req.RootDir == "" {
		return req, errors.New("no library directory given and default_directory is not set")
	}

	req.Threshold = settings.Threshold
	req.MaxResults = settings.MaxResults
	req.Metric = settings.Metric
	if cmd.Flags().Changed("threshold") {
		req.Threshold = searchThreshold
	}
	if cmd.Flags().Changed("max-results") {
		req.MaxResults = searchMaxResults
	}
	if cmd.Flags().Changed("metric") {
		req.Metric = searchMetric
	}
	return req, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	req, err := buildSearchRequest(cmd, args)
	if err != nil {
		return err
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	run, err := svc.StartSearch(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchNoProgress || searchJSON {
		for range run.Progress() {
		}
	} else {
		showProgress(cmd.ErrOrStderr(), run)
	}

	outcome, err := run.Wait()
	if err != nil && outcome.State != search.Canceled {
		return err
	}

	if searchJSON {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
	} else {
		printOutcome(out, outcome)
	}

	if searchExport != "" && outcome.State == search.Complete {
		path := searchExport
		if path == "auto" {
			path = ranking.DefaultExportName(time.Now())
		}
		if err := ranking.ExportCSV(path, outcome.Request.ReferencePath, outcome.Results); err != nil {
			return err
		}
		if !searchJSON {
			fmt.Fprintf(out, "Exported %d result(s) to %s\n", len(outcome.Results), path)
		}
	}

	if outcome.State == search.Canceled {
		return context.Canceled
	}
	return nil
}

func showProgress(w io.Writer, run *search.Run) {
	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(w))
	bar := p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name("Scanning: "),
			decor.Any(func(s decor.Statistics) string {
				snap := run.Snapshot()
				return fmt.Sprintf("%d / %d", snap.Processed, snap.Total)
			}, decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	last := time.Now()
	for ev := range run.Progress() {
		now := time.Now()
		bar.EwmaSetCurrent(int64(ev.Percent), now.Sub(last))
		last = now
	}
	bar.SetTotal(-1, true)
	p.Wait()
}

func printOutcome(w io.Writer, o search.Outcome) {
	fmt.Fprintf(w, "\nReference: %s\n", o.Request.ReferencePath)
	fmt.Fprintf(w, "Library:   %s\n", o.Request.RootDir)
	fmt.Fprintf(w, "Scanned %s file(s), skipped %s, %s within threshold %.2f (%s)\n",
		humanize.Comma(int64(o.Processed)), humanize.Comma(int64(o.Skipped)),
		humanize.Comma(int64(o.Matched)), o.Request.Threshold, o.Duration.Round(time.Millisecond))

	if o.State == search.Canceled {
		fmt.Fprintln(w, "Search canceled; no results.")
		return
	}
	if len(o.Results) == 0 {
		fmt.Fprintln(w, "No similar tracks found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\nRANK\tSCORE\tTRACK\tPATH\n")
	fmt.Fprintf(tw, "----\t-----\t-----\t----\n")
	for i, m := range o.Results {
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, m.Score, truncate(filepath.Base(m.Path), 40), truncate(m.Path, 70))
	}
	tw.Flush()
}
