package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/bobmcallan/vaultsync/internal/app"
	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/models"
)

type reportCmd struct {
	config string
	json   bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "show the current drift from the target index" }
func (*reportCmd) Usage() string {
	return `report [-config <path>] [-json]

  Reads the brokerage account and the target composition and prints the
  trades a rebalance would place. Nothing is executed.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "Path to vaultsync.toml")
	f.BoolVar(&c.json, "json", false, "Print the report as JSON")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := app.NewApp(ctx, c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	report, err := a.Engine.Report(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building report: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.json {
		return printJSON(report)
	}
	printReport(os.Stdout, report)
	return subcommands.ExitSuccess
}

func printJSON(v interface{}) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printReport(w io.Writer, report *models.RebalanceReport) {
	state := report.CurrentHoldings
	fmt.Fprintf(w, "Total value:  %s\n", common.FormatUSD(state.TotalValue))
	fmt.Fprintf(w, "Cash:         %s\n", common.FormatUSD(state.Cash))
	fmt.Fprintf(w, "Deviation:    %.2f%%\n", report.Deviation*100)
	fmt.Fprintf(w, "Balanced:     %v\n", report.IsBalanced)
	if report.CompositionStale {
		fmt.Fprintln(w, "Warning: target composition is stale")
	}
	if report.PricesDegraded {
		fmt.Fprintln(w, "Warning: some prices were unavailable")
	}
	printTrades(w, report.SuggestedTrades)
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "Skipped %s: %s\n", s.Symbol, s.Reason)
	}
}

func printTrades(w io.Writer, trades []*models.RebalanceTrade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "\nNo trades needed.")
		return
	}
	fmt.Fprintf(w, "\n%-6s %-8s %10s %12s %14s\n", "SIDE", "SYMBOL", "SHARES", "PRICE", "AMOUNT")
	for _, t := range trades {
		fmt.Fprintf(w, "%-6s %-8s %10.0f %12s %14s\n",
			t.Action, t.Symbol, t.Shares, common.FormatUSD(t.Price), common.FormatUSD(t.Difference))
	}
}
