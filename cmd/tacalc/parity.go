package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tastream/config"
	"tastream/internal/native"
	"tastream/internal/parity"
	"tastream/internal/reference"
	"tastream/internal/ta"
)

var errMismatch = errors.New("backends disagree")

func newParityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parity",
		Short: "check that both backends agree in batch, append and update modes",
		Long: `Reads a CSV series from stdin and runs every check for the given indicator,
or for the default indicator set when no --spec or --kind is given. Exits
non-zero when any check disagrees beyond the tolerance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := paritySpecs(cmd)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			col, _ := cmd.Flags().GetString("column")
			bump, _ := cmd.Flags().GetFloat64("bump")

			reports := make([][]parity.Report, len(specs))
			var g errgroup.Group
			for i, spec := range specs {
				i, spec := i, spec
				g.Go(func() error {
					in, err := readInput(bytes.NewReader(data), spec.Pair(), col)
					if err != nil {
						return err
					}
					start := time.Now()
					reports[i], err = parity.Check(native.New(), reference.New(), spec, in, bumped(in, bump))
					if err != nil {
						return fmt.Errorf("%s: %w", spec.Key(), err)
					}
					slog.Debug("parity checked", "indicator", spec.Key(), "n", in.Len(), "took", time.Since(start))
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, rs := range reports {
				for _, r := range rs {
					fmt.Fprintln(out, r.String())
					if !r.OK() {
						failed++
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d failed checks", errMismatch, failed)
			}
			return nil
		},
	}
	addSpecFlags(cmd)
	cmd.Flags().String("column", "close", "input column name, or index without a header row")
	cmd.Flags().Float64("bump", 0.001, "relative change applied to each value for the update check")
	return cmd
}

func paritySpecs(cmd *cobra.Command) ([]ta.Spec, error) {
	s, _ := cmd.Flags().GetString("spec")
	k, _ := cmd.Flags().GetString("kind")
	if s == "" && k == "" {
		return config.ParseIndicatorSpecs(config.DefaultIndicators)
	}
	spec, err := specFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	return []ta.Spec{spec}, nil
}

// bumped returns the alternate series for the update check: every present
// value scaled by 1+rel.
func bumped(in parity.Input, rel float64) parity.Input {
	scale := func(vs []ta.Value) []ta.Value {
		if vs == nil {
			return nil
		}
		out := make([]ta.Value, len(vs))
		for i, v := range vs {
			if v.Valid {
				out[i] = ta.Of(v.Float * (1 + rel))
			}
		}
		return out
	}
	return parity.Input{Values: scale(in.Values), High: scale(in.High), Low: scale(in.Low)}
}
