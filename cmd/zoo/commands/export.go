package commands

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-zoo/inference"
	"github.com/nvr-ai/go-zoo/weights"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	mf := modelFlags{root: opts}
	var (
		bf        buildFlags
		precision string
		manifest  bool
	)
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the weights of a built network to a safetensors file",
		Long: `Build a network and write every parameter to FILE in safetensors format.

Examples:
  zoo export --pretrained NONE --labels 1000 vgg16_imagenet.safetensors
  zoo export --model vgg19 --precision FP16 vgg19.safetensors`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := inference.ParsePrecision(precision)
			if err != nil {
				return err
			}
			m, err := mf.adapter()
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

			path := args[0]
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrap(err, "creating weight file")
			}
			if err := weights.Save(f, net, p.DType()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return errors.Wrap(err, "closing weight file")
			}

			sum, err := weights.Checksum(path)
			if err != nil {
				return err
			}
			opts.log.WithFields(logrus.Fields{"file": path, "adler32": sum, "precision": p}).Info("exported weights")
			if manifest {
				return addToManifest(path, sum)
			}
			return nil
		},
	}
	mf.register(cmd)
	bf.register(cmd, 1000)
	cmd.Flags().StringVar(&precision, "precision", string(inference.PrecisionFP32), "Storage precision (FP32, FP16)")
	cmd.Flags().BoolVar(&manifest, "manifest", false, "Record the checksum in the manifest next to FILE")
	return cmd
}

func addToManifest(path string, sum uint32) error {
	dir := filepath.Dir(path)
	m, err := weights.LoadManifest(dir)
	if err != nil {
		return err
	}
	m.Files[filepath.Base(path)] = weights.ManifestEntry{Adler32: sum}
	return weights.WriteManifest(dir, m)
}
