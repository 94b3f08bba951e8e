package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	mf := modelFlags{root: opts}
	var bf buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a network for a new label count",
		Long: `Build a network, loading pretrained weights and replacing the prediction
layer when they are available, and report the result.

Examples:
  zoo build --labels 10
  zoo build --model vgg16 --pretrained VGGFACE --labels 100 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.adapter()
			if err != nil {
				return err
			}
			sub, err := m.Substitution()
			if err != nil {
				return err
			}
			buildArgs, err := bf.args(m)
			if err != nil {
				return err
			}
			net, err := opts.build(cmd.Context(), m, buildArgs)
			if err != nil {
				return err
			}
			out, err := net.Config().OutputLayer()
			if err != nil {
				return err
			}

			opts.log.WithFields(logrus.Fields{
				"model":            m.Name(),
				"pretrained":       m.PretrainedType(),
				"feature_layer":    sub.FeatureLayer,
				"prediction_layer": sub.PredictionLayer,
			}).Debug("substitution")

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "model:      %s\n", m.Name())
			fmt.Fprintf(w, "pretrained: %s\n", m.PretrainedType())
			fmt.Fprintf(w, "input:      %s\n", joinInts(net.Config().InputShape))
			fmt.Fprintf(w, "output:     %s (%d -> %d)\n", out.Name, out.NIn, out.NOut)
			fmt.Fprintf(w, "params:     %d\n", net.Config().NumParams())
			return nil
		},
	}
	mf.register(cmd)
	bf.register(cmd, 10)
	return cmd
}
