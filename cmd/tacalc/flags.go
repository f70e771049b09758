package main

import (
	"github.com/spf13/cobra"

	"tastream/internal/ta"
)

func addSpecFlags(cmd *cobra.Command) {
	cmd.Flags().String("spec", "", `indicator spec, e.g. "EMA:10", "T3:5:0.7", "SAR:0.02:0.2"`)
	cmd.Flags().String("kind", "", "indicator kind, e.g. SMA, EMA, T3, SAR, HT_TRENDLINE")
	cmd.Flags().Int("period", 0, "time period")
	cmd.Flags().Float64("vfactor", 0.7, "T3 volume factor")
	cmd.Flags().Float64("accel", 0.02, "SAR acceleration factor")
	cmd.Flags().Float64("max", 0.2, "SAR maximum acceleration")
}

// specFromFlags builds the indicator spec from --spec, or from --kind and
// the parameter flags.
func specFromFlags(cmd *cobra.Command) (ta.Spec, error) {
	if s, _ := cmd.Flags().GetString("spec"); s != "" {
		return ta.ParseSpec(s)
	}

	k, _ := cmd.Flags().GetString("kind")
	kind, err := ta.ParseKind(k)
	if err != nil {
		return ta.Spec{}, err
	}
	spec := ta.Spec{Kind: kind}
	spec.Period, _ = cmd.Flags().GetInt("period")
	spec.VFactor, _ = cmd.Flags().GetFloat64("vfactor")
	spec.Acceleration, _ = cmd.Flags().GetFloat64("accel")
	spec.Maximum, _ = cmd.Flags().GetFloat64("max")
	return spec, spec.Validate()
}
