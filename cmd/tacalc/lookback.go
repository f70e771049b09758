package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tastream/internal/backend"
)

func newLookbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookback",
		Short: "print the number of leading not-ready outputs of an indicator",
		Args:  cobra.NoArgs,
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
			// the backend must accept the spec too
			if spec.Pair() {
				_, err = b.NewPairStream(spec)
			} else {
				_, err = b.NewStream(spec)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), spec.Lookback())
			return nil
		},
	}
	addSpecFlags(cmd)
	return cmd
}
