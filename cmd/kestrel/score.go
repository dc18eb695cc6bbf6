package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// oneShot builds an in-memory pipeline for a single command invocation.
func oneShot(ctx context.Context, cfg *domain.Config) (*components, error) {
	return build(ctx, cfg, cache.NewLRUCache(16), nil)
}

func scoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("threshold", 0, "approval threshold")
	f.String("model", "", "model artifact name")
	f.String("encoder", "", "encoder artifact name")
}

func newPredictCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [application.json|-]",
		Short: "Score one application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := readApplication(firstArg(args), cmd.InOrStdin())
			if err != nil {
				return err
			}
			comps, err := oneShot(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer comps.Close()

			pred, err := comps.svc.Predict(cmd.Context(), app)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pred)
		},
	}
	scoreFlags(cmd)
	return cmd
}

func newExplainCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain [application.json|-]",
		Short: "Score and explain one application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, comps, err := explainOne(cmd, c.cfg, firstArg(args))
			if err != nil {
				return err
			}
			defer comps.Close()
			return printJSON(cmd.OutOrStdout(), exp)
		},
	}
	scoreFlags(cmd)
	cmd.Flags().Int("samples", 0, "perturbed samples per explanation")
	cmd.Flags().Int64("seed", 0, "sampling seed")
	return cmd
}

func newReportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report [application.json|-]",
		Short: "Score, explain and render a PNG report for one application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, comps, err := explainOne(cmd, c.cfg, firstArg(args))
			if err != nil {
				return err
			}
			defer comps.Close()

			r, err := comps.svc.RenderExplanation(cmd.Context(), exp)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, r.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s report written to %s (%s)\n",
				decisionWord(exp.Decision), out, humanize.Bytes(uint64(len(r.Data))))
			return nil
		},
	}
	scoreFlags(cmd)
	cmd.Flags().Int("samples", 0, "perturbed samples per explanation")
	cmd.Flags().Int64("seed", 0, "sampling seed")
	cmd.Flags().StringVarP(&out, "out", "o", "loan_report.png", "output PNG path")
	return cmd
}

// explainOne returns the explanation and the open components; the caller
// closes them.
func explainOne(cmd *cobra.Command, cfg *domain.Config, path string) (*domain.Explanation, *components, error) {
	app, err := readApplication(path, cmd.InOrStdin())
	if err != nil {
		return nil, nil, err
	}
	comps, err := oneShot(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}

	pred, err := comps.svc.Predict(cmd.Context(), app)
	if err != nil {
		comps.Close()
		return nil, nil, err
	}
	exp, err := comps.svc.ExplainPrediction(cmd.Context(), pred)
	if err != nil {
		comps.Close()
		return nil, nil, err
	}
	return exp, comps, nil
}

func decisionWord(d int) string {
	if d == domain.DecisionApproved {
		return "Approved"
	}
	return "Rejected"
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
