package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"tastream/internal/backend"
	"tastream/internal/parity"
)

func newComputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "compute an indicator over a CSV series read from stdin",
		Example: `  tacalc compute --kind EMA --period 10 < prices.csv
  tacalc compute --spec SAR:0.02:0.2 --backend reference < hl.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := specFromFlags(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("backend")
			b, err := backend.Open(name)
			if err != nil {
				return err
			}
			col, _ := cmd.Flags().GetString("column")
			in, err := readInput(cmd.InOrStdin(), spec.Pair(), col)
			if err != nil {
				return err
			}

			stream, _ := cmd.Flags().GetBool("stream")
			run := parity.Compute
			if stream {
				run = parity.Stream
			}
			out, err := run(b, spec, in)
			if err != nil {
				return err
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, v := range out {
				fmt.Fprintln(w, formatValue(v))
			}
			return w.Flush()
		},
	}
	addSpecFlags(cmd)
	cmd.Flags().String("column", "close", "input column name, or index without a header row")
	cmd.Flags().Bool("stream", false, "compute by streaming APPEND instead of the batch transform")
	return cmd
}
