package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	specOutput string
	specWidth  int
	specHeight int
)

// NewSpectrogramCmd creates the spectrogram command
func NewSpectrogramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spectrogram <file>",
		Short: "Render a spectrogram PNG of a track",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpectrogram,
	}

	cmd.Flags().StringVarP(&specOutput, "output", "o", "", "PNG path (default: <file>_spectrogram.png)")
	cmd.Flags().IntVar(&specWidth, "width", 2048, "Image width in pixels")
	cmd.Flags().IntVar(&specHeight, "height", 512, "Image height in pixels")

	return cmd
}

func runSpectrogram(cmd *cobra.Command, args []string) error {
	in := args[0]
	out := specOutput
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + "_spectrogram.png"
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}
	defer svc.Close()

	if err := svc.RenderSpectrogram(cmd.Context(), in, out, specWidth, specHeight); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Spectrogram written to %s\n", out)
	return nil
}
