package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/trace"
)

type genFlags struct {
	seed   uint64
	keys   int
	field  string
	tickMS uint64
	out    string
	format string
}

func newGenCmd() *cobra.Command {
	var f genFlags
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a synthetic typing trace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			field, err := caret.ParseFieldKind(f.field)
			if err != nil {
				return err
			}
			seed := f.seed
			if !cmd.Flags().Changed("seed") {
				seed = uint64(time.Now().UnixNano()) //nolint:gosec // any seed will do
			}
			tr := trace.NewGenerator(seed,
				trace.WithField(field),
				trace.WithTick(f.tickMS),
			).Generate(f.keys)
			tr.Name = fmt.Sprintf("synthetic seed=%d", seed)

			if f.out != "" {
				return trace.Save(f.out, tr)
			}
			format := trace.FormatYAML
			if f.format == string(trace.FormatJSON) {
				format = trace.FormatJSON
			}
			return trace.Encode(cmd.OutOrStdout(), tr, format)
		},
	}
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "generator seed (random when unset)")
	cmd.Flags().IntVar(&f.keys, "keys", 200, "approximate number of typed characters")
	cmd.Flags().StringVar(&f.field, "field", caret.FieldTextArea.String(), "field kind")
	cmd.Flags().Uint64Var(&f.tickMS, "tick", 75, "flush tick in milliseconds, 0 for none")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file; format follows the extension")
	cmd.Flags().StringVar(&f.format, "format", string(trace.FormatYAML), "stdout format: yaml or json")
	return cmd
}
