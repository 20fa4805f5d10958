package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"egc/internal/feecalc"
	"egc/internal/middleware"
	"egc/pkg/contracts/domain"
)

func newCalcCmd() *cobra.Command {
	var simple bool

	cmd := &cobra.Command{
		Use:   "calc [FILE]",
		Short: "Run the fee engine over JSON inputs",
		Long: "Reads input buckets as JSON from FILE or stdin, fills missing fields\n" +
			"from the defaults and prints the fee breakdown and profit rollup.\n" +
			"With --simple the input is the single-item calculator form.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if simple {
				return runSimpleCalc(cmd, data)
			}
			return runFullCalc(cmd, data)
		},
	}
	cmd.Flags().BoolVar(&simple, "simple", false, "read single-item calculator inputs")
	return cmd
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return data, nil
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return fmt.Errorf("invalid inputs: %w", err)
	}
	if err := middleware.NewValidator().Struct(dst); err != nil {
		return fmt.Errorf("invalid inputs: %w", err)
	}
	return nil
}

func runFullCalc(cmd *cobra.Command, data []byte) error {
	in := feecalc.DefaultInputs()
	if err := decodeStrict(data, &in); err != nil {
		return err
	}
	out := feecalc.Compute(in)
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), out)
	}

	r := out.Rollup
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value float64
	}{
		{"gross", r.Gross},
		{"discounts", r.DiscountsTotal},
		{"fees", r.FeesTotal},
		{"shipping cost", r.ShippingCostTotal},
		{"cogs", r.COGSTotal},
		{"net", r.Net},
		{"margin %", r.MarginPct},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row.label, num(row.value))
	}
	return tw.Flush()
}

func runSimpleCalc(cmd *cobra.Command, data []byte) error {
	var in domain.SimpleInputs
	if err := decodeStrict(data, &in); err != nil {
		return err
	}
	res := feecalc.ComputeSimple(in)
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), res)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "qty\t%d\n", res.Qty)
	fmt.Fprintf(tw, "gross\t%s\n", num(res.Gross))
	fmt.Fprintf(tw, "fees\t%s\n", num(res.Fees))
	fmt.Fprintf(tw, "net\t%s\n", num(res.Net))
	fmt.Fprintf(tw, "margin %%\t%s\n", num(res.MarginPct))
	return tw.Flush()
}
