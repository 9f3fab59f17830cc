package commands

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/mast/pkg/mast/mastering"
)

var (
	masterFormat  string
	masterSubtype string
	masterBitrate string
	masterOutput  string
	masterPattern string
	masterDir     string
	masterCommand string
)

// NewMasterCmd creates the master command
func NewMasterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master <target> <reference>",
		Short: "Master a target track to sound like a reference",
		Long: `Run the external mastering program on target using reference as the model.

The output name is built from a pattern with {target}, {reference}, {date}
and {time} placeholders unless --output is given.

Examples:
  mast master mix.wav ref.wav
  mast master --format mp3 --bitrate 256k mix.wav ref.flac
  mast master --format flac --subtype PCM_16 --dir out/ mix.wav ref.wav`,
		Args: cobra.ExactArgs(2),
		RunE: runMaster,
	}

	cmd.Flags().StringVarP(&masterFormat, "format", "f", "", "Output format: wav, flac, mp3, aiff")
	cmd.Flags().StringVar(&masterSubtype, "subtype", "", "Sample format for wav/flac/aiff: PCM_16, PCM_24, FLOAT")
	cmd.Flags().StringVar(&masterBitrate, "bitrate", "", "MP3 bitrate: 320k, 256k, 192k, 128k")
	cmd.Flags().StringVarP(&masterOutput, "output", "o", "", "Output file (overrides --pattern and --dir)")
	cmd.Flags().StringVar(&masterPattern, "pattern", "", "Output naming pattern")
	cmd.Flags().StringVar(&masterDir, "dir", "", "Output directory (default: next to the target)")
	cmd.Flags().StringVar(&masterCommand, "command", "", "Mastering program and leading arguments")

	return cmd
}

func buildMasterRequest(target, reference string) (mastering.Request, error) {
	format := pick(masterFormat, settings.DefaultFormat)
	f, err := mastering.ParseFormat(format)
	if err != nil {
		return mastering.Request{}, err
	}

	req := mastering.Request{
		TargetPath:    target,
		ReferencePath: reference,
		OutputPath:    masterOutput,
		Format:        f,
	}
	if f == mastering.MP3 {
		req.Bitrate = pick(masterBitrate, settings.DefaultBitrate)
	} else {
		req.Subtype = pick(masterSubtype, settings.DefaultSubtype)
	}

	if req.OutputPath == "" {
		req.OutputPath, err = mastering.OutputPath(
			pick(masterPattern, settings.NamingPattern),
			target, reference,
			pick(masterDir, settings.OutputDirectory),
			f, time.Now(),
		)
		if err != nil {
			return mastering.Request{}, err
		}
	}
	return req, nil
}

func runMaster(cmd *cobra.Command, args []string) error {
	req, err := buildMasterRequest(args[0], args[1])
	if err != nil {
		return err
	}
	if masterCommand != "" {
		settings.MasteringCommand = splitCommand(masterCommand)
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	if err := svc.Master(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mastered %s -> %s (%s)\n", args[0], req.OutputPath, time.Since(start).Round(time.Millisecond))
	return nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
