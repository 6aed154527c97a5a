package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/bobmcallan/vaultsync/internal/app"
	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/models"
)

type rebalanceCmd struct {
	config string
	json   bool
}

func (*rebalanceCmd) Name() string     { return "rebalance" }
func (*rebalanceCmd) Synopsis() string { return "run one manual reconciliation and exit" }
func (*rebalanceCmd) Usage() string {
	return `rebalance [-config <path>] [-json]

  Places the orders needed to bring the brokerage account back to the
  target index. Sells are placed before buys.
`
}

func (c *rebalanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "Path to vaultsync.toml")
	f.BoolVar(&c.json, "json", false, "Print the result as JSON")
}

func (c *rebalanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := app.NewApp(ctx, c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	result, err := a.Engine.Reconcile(ctx, models.TriggerManual)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rebalance failed: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.json {
		return printJSON(result)
	}

	if !result.Executed {
		fmt.Println("Portfolio is balanced, no orders placed.")
		return subcommands.ExitSuccess
	}
	fmt.Printf("Bought %s, sold %s across %d orders\n",
		common.FormatUSD(result.TotalBuyAmount), common.FormatUSD(result.TotalSellAmount), len(result.Orders))
	printTrades(os.Stdout, result.Trades)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "Error: %s\n", e)
	}
	if len(result.Errors) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
