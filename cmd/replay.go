package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/engagement-analytics/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay an NDJSON signal trace into the configured sinks",
		Long: `Reads a signal trace ("-" for stdin), drives a fresh page-load pipeline
through it on a virtual clock and prints the replay summary as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			signals, err := readTrace(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			summary, err := rt.app.Replay(cmd.Context(), signals, seed)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "derive event IDs from this seed for reproducible output")
	return cmd
}

func readTrace(stdin io.Reader, path string) ([]replay.Signal, error) {
	if path == "-" {
		return replay.Decode(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer func() { _ = f.Close() }()
	signals, err := replay.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return signals, nil
}
