package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	units "github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/profiler"
)

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	mf := modelFlags{root: opts}
	var bf buildFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the layers of a built network",
		Long: `Build a network and print its layers, shapes and parameter counts.

Examples:
  zoo summary --model vgg19 --labels 10
  zoo summary --pretrained VGGFACE --shape 3,224,224`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			writeSummary(cmd.OutOrStdout(), net.Config())
			return nil
		},
	}
	mf.register(cmd)
	bf.register(cmd, 1000)
	return cmd
}

func writeSummary(w io.Writer, cfg *nn.Config) {
	var data [][]string
	for _, r := range nn.Summarize(cfg) {
		frozen := ""
		if r.Frozen {
			frozen = "yes"
		}
		data = append(data, []string{
			r.Name,
			string(r.Kind),
			r.Input,
			joinInts(r.OutShape),
			strconv.Itoa(r.Params),
			frozen,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LAYER", "KIND", "INPUT", "OUTPUT", "PARAMS", "FROZEN"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	params := cfg.NumParams()
	fmt.Fprintf(w, "\n%s: %d parameters (%s as float32)\n", cfg.Name, params, units.HumanSize(float64(params)*4))
}

func writeProfile(w io.Writer, p *profiler.Profiler) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"OPERATION", "COUNT", "MEAN", "MIN", "MAX", "HEAP"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, s := range p.Stats() {
		table.Append([]string{
			s.Name,
			strconv.Itoa(s.Count),
			s.Mean.Round(time.Microsecond).String(),
			s.Min.Round(time.Microsecond).String(),
			s.Max.Round(time.Microsecond).String(),
			units.HumanSize(float64(s.HeapDelta)),
		})
	}
	table.Render()
	fmt.Fprintf(w, "total: %s\n", p.Elapsed().Round(time.Millisecond))
}
