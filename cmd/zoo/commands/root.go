// Package commands implements the zoo CLI commands.
package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-zoo/models"
	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/preferences"
	"github.com/nvr-ai/go-zoo/profiler"
	"github.com/nvr-ai/go-zoo/zoo"
)

// rootOptions holds the global flags and the per-invocation logger and
// profiler. Every command tree gets its own instance.
type rootOptions struct {
	verbose    bool
	logJSON    bool
	weightsDir string
	weightsURL string
	profile    bool

	log  *logrus.Entry
	prof *profiler.Profiler
}

// newRootCmd returns a fresh zoo command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "zoo",
		Short: "Build and run VGG zoo networks",
		Long: `zoo configures VGG16 and VGG19 networks for transfer learning.

Pretrained weights are read from the weights directory (ZOO_WEIGHTS_DIR) and,
when ZOO_WEIGHTS_URL is set, downloaded on first use.

Example:
  zoo shape --model vgg19
  zoo build --model vgg16 --pretrained VGGFACE --labels 10`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			if err := preferences.LoadFromEnv(); err != nil {
				return err
			}

			logger := logrus.StandardLogger()
			logger.SetLevel(preferences.LogLevel())
			if opts.verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			if opts.logJSON {
				logger.SetFormatter(&logrus.JSONFormatter{})
			}
			opts.log = logger.WithField("component", "zoo")
			opts.prof = profiler.New(logger.WithField("component", "profiler"))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.profile && opts.prof != nil {
				writeProfile(cmd.ErrOrStderr(), opts.prof)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Output logs in JSON format")
	cmd.PersistentFlags().StringVar(&opts.weightsDir, "weights-dir", "", "Pretrained weight directory (default from ZOO_WEIGHTS_DIR)")
	cmd.PersistentFlags().BoolVar(&opts.profile, "profile", false, "Print operation timings when the command finishes")
	cmd.PersistentFlags().StringVar(&opts.weightsURL, "weights-url", "", "Remote weight base URL (default from ZOO_WEIGHTS_URL)")

	cmd.AddCommand(
		newShapeCmd(opts),
		newSummaryCmd(opts),
		newBuildCmd(opts),
		newExportCmd(opts),
		newClassifyCmd(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newRootCmd().ExecuteContext(ctx)
}

// modelFlags are the adapter selection flags shared by several commands.
type modelFlags struct {
	root       *rootOptions
	name       string
	pretrained string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "model", "m", string(model.ModelNameVGG16), "Model name (vgg16, vgg19)")
	cmd.Flags().StringVarP(&f.pretrained, "pretrained", "p", string(zoo.PretrainedImageNet), "Pretrained weight set (NONE, IMAGENET, CIFAR10, VGGFACE, ...)")
}

func (f *modelFlags) adapter() (model.Adapter, error) {
	pt, err := zoo.ParsePretrainedType(f.pretrained)
	if err != nil {
		return nil, err
	}
	m, err := models.NewModel(model.NewModelArgs{
		Name:       model.Name(f.name),
		Pretrained: pt,
		WeightsDir: f.root.weightsDir,
		WeightsURL: f.root.weightsURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating model")
	}
	return m, nil
}

// buildFlags are the Build arguments shared by several commands.
type buildFlags struct {
	labels int
	seed   int64
	shape  []int
	filter bool
}

func (f *buildFlags) register(cmd *cobra.Command, labels int) {
	cmd.Flags().IntVarP(&f.labels, "labels", "n", labels, "Number of output labels")
	cmd.Flags().Int64Var(&f.seed, "seed", zoo.DefaultSeed, "Seed for freshly initialised layers")
	cmd.Flags().IntSliceVar(&f.shape, "shape", nil, "Input shape C,H,W (default: the model's first input shape)")
	cmd.Flags().BoolVar(&f.filter, "filter", false, "Keep the pretrained head and use the network as a feature extractor")
}

func (f *buildFlags) args(m model.Adapter) (model.BuildArgs, error) {
	shape := f.shape
	if len(shape) == 0 {
		shapes, err := m.Shape()
		if err != nil {
			return model.BuildArgs{}, err
		}
		shape = shapes[0]
	}
	return model.BuildArgs{NumLabels: f.labels, Seed: f.seed, Shape: shape, FilterMode: f.filter}, nil
}

// build runs the adapter under the "build" profiler operation.
func (o *rootOptions) build(ctx context.Context, m model.Adapter, args model.BuildArgs) (*nn.Network, error) {
	defer o.prof.StartOperation("build")()
	return m.Build(ctx, args)
}
