package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/models"
)

var (
	analyzeJSON     bool
	analyzeMetadata bool
)

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file> [other]",
		Short: "Estimate tempo, key, loudness and spectral features of a track",
		Long: `Analyze a track. With a second file, both analyses are printed side by
side for comparison (for example a mix against its reference).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runAnalyze,
	}

	cmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the analysis as JSON")
	cmd.Flags().BoolVar(&analyzeMetadata, "metadata", true, "Include container metadata and tags (needs ffprobe)")

	return cmd
}

type analyzeReport struct {
	Analysis models.AnalysisSummary `json:"analysis"`
	Metadata *audio.Metadata        `json:"metadata,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	svc, err := createService()
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}
	defer svc.Close()

	reports := make([]analyzeReport, 0, len(args))
	for _, path := range args {
		res, err := svc.Analyze(cmd.Context(), path)
		if err != nil {
			return err
		}
		report := analyzeReport{Analysis: res.Summary()}
		if analyzeMetadata {
			meta, err := svc.Metadata(cmd.Context(), path)
			if err != nil {
				logger.GetLogger().Warnf("Metadata unavailable for %s: %v", path, err)
			} else {
				report.Metadata = meta
			}
		}
		reports = append(reports, report)
	}

	out := cmd.OutOrStdout()
	if analyzeJSON {
		var v any = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(reports) == 2 {
		printComparison(tw, reports[0], reports[1])
	} else {
		printReport(tw, args[0], reports[0])
	}
	return tw.Flush()
}

func printReport(tw *tabwriter.Writer, path string, report analyzeReport) {
	a := report.Analysis
	fmt.Fprintf(tw, "File:\t%s\n", a.Path)
	if info, err := os.Stat(path); err == nil {
		fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", formatDuration(a.DurationSec))
	fmt.Fprintf(tw, "Tempo:\t%.1f BPM\n", a.BPM)
	fmt.Fprintf(tw, "Key:\t%s %s\n", a.Key, a.Scale)
	fmt.Fprintf(tw, "Loudness (RMS):\tmean %.4f  max %.4f  min %.4f  range %.4f\n",
		a.Loudness.Mean, a.Loudness.Max, a.Loudness.Min, a.Loudness.DynamicRange)
	fmt.Fprintf(tw, "Spectral centroid:\t%.0f Hz\n", a.SpectralCentroid)
	fmt.Fprintf(tw, "Clipping:\t%s\n", yesNo(a.Clipping))

	if m := report.Metadata; m != nil {
		if m.Title != "" || m.Artist != "" {
			fmt.Fprintf(tw, "Track:\t%s - %s\n", m.Artist, m.Title)
		}
		if m.Album != "" {
			fmt.Fprintf(tw, "Album:\t%s\n", m.Album)
		}
		fmt.Fprintf(tw, "Format:\t%s, %d Hz, %d ch", m.Format, m.SampleRate, m.Channels)
		if m.BitDepth > 0 {
			fmt.Fprintf(tw, ", %d-bit", m.BitDepth)
		}
		fmt.Fprintln(tw)
	}
}

// printComparison lays two analyses out in columns.
func printComparison(tw *tabwriter.Writer, left, right analyzeReport) {
	a, b := left.Analysis, right.Analysis
	rows := []struct {
		label string
		value func(models.AnalysisSummary) string
	}{
		{"File", func(s models.AnalysisSummary) string { return truncate(filepath.Base(s.Path), 40) }},
		{"Duration", func(s models.AnalysisSummary) string { return formatDuration(s.DurationSec) }},
		{"Tempo (BPM)", func(s models.AnalysisSummary) string { return fmt.Sprintf("%.1f", s.BPM) }},
		{"Key", func(s models.AnalysisSummary) string { return s.Key + " " + s.Scale }},
		{"RMS mean", func(s models.AnalysisSummary) string { return fmt.Sprintf("%.4f", s.Loudness.Mean) }},
		{"RMS max", func(s models.AnalysisSummary) string { return fmt.Sprintf("%.4f", s.Loudness.Max) }},
		{"Dynamic range", func(s models.AnalysisSummary) string { return fmt.Sprintf("%.4f", s.Loudness.DynamicRange) }},
		{"Spectral centroid", func(s models.AnalysisSummary) string { return fmt.Sprintf("%.0f Hz", s.SpectralCentroid) }},
		{"Clipping", func(s models.AnalysisSummary) string { return yesNo(s.Clipping) }},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\t%s\n", r.label, r.value(a), r.value(b))
	}
}

func formatDuration(sec float64) string {
	return time.Duration(sec * float64(time.Second)).Round(time.Millisecond).String()
}
