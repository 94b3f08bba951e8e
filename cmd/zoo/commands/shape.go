package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newShapeCmd(opts *rootOptions) *cobra.Command {
	mf := modelFlags{root: opts}
	cmd := &cobra.Command{
		Use:   "shape",
		Short: "Print the default input shapes of a model",
		Long: `Print the input shapes a model accepts by default, one C,H,W row per line.

Examples:
  zoo shape
  zoo shape --model vgg19`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.adapter()
			if err != nil {
				return err
			}
			shapes, err := m.Shape()
			if err != nil {
				return err
			}
			for _, s := range shapes {
				fmt.Fprintln(cmd.OutOrStdout(), joinInts(s))
			}
			return nil
		},
	}
	mf.register(cmd)
	return cmd
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
