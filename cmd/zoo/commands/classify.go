package commands

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-zoo/images"
	"github.com/nvr-ai/go-zoo/inference"
)

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	mf := modelFlags{root: opts}
	var (
		bf      buildFlags
		classes string
		topK    int
	)
	cmd := &cobra.Command{
		Use:   "classify PATH...",
		Short: "Classify images with a built network",
		Long: `Build a network and print the most probable labels of each image.

Each PATH is a JPEG, PNG or WebP file, or a directory of them. Labels are
read one per line from --classes; without it the output indices
are printed.

Examples:
  zoo classify --pretrained CIFAR10 --labels 10 --shape 3,32,32 cat.png
  zoo classify --classes faces.txt --pretrained VGGFACE face.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := images.Expand(args)
			if err != nil {
				return err
			}

			var set inference.ClassSet
			if classes != "" {
				if set, err = inference.LoadClassSet(classes); err != nil {
					return err
				}
				if !cmd.Flags().Changed("labels") {
					bf.labels = len(set)
				}
			}

			m, err := mf.adapter()
			if err != nil {
				return err
			}
			buildArgs, err := bf.args(m)
			if err != nil {
				return err
			}
			stop := opts.prof.StartOperation("build")
			engine, err := inference.NewEngineBuilder().
				WithAdapter(m).
				WithBuildArgs(buildArgs).
				WithClasses(set).
				WithTopK(topK).
				Build(cmd.Context())
			stop()
			if err != nil {
				return err
			}
			defer engine.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"IMAGE", "RANK", "LABEL", "PROBABILITY"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")

			for _, path := range paths {
				img, err := images.Load(path)
				if err != nil {
					return err
				}
				stop := opts.prof.StartOperation("predict")
				preds, err := engine.Predict(cmd.Context(), img)
				stop()
				if err != nil {
					return errors.Wrapf(err, "classifying %s", path)
				}
				for i, p := range preds {
					table.Append([]string{path, fmt.Sprint(i + 1), p.Label, fmt.Sprintf("%.4f", p.Probability)})
				}
			}
			table.Render()
			return nil
		},
	}
	mf.register(cmd)
	bf.register(cmd, 1000)
	cmd.Flags().StringVar(&classes, "classes", "", "File with one label per line")
	cmd.Flags().IntVarP(&topK, "top", "k", inference.DefaultTopK, "Number of predictions per image")
	return cmd
}
