package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"portfolio-tracker/client"
	"portfolio-tracker/models"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

const (
	serverEnv = "PORTFOLIO_SERVER"
	userEnv   = "PORTFOLIO_USER"
)

var commands = []subcommands.Command{
	&addCmd{},
	&editCmd{},
	&deleteCmd{},
	&getCmd{},
	&listCmd{},
}

// target holds the flags every command shares.
type target struct {
	server string
	user   string
	asJSON bool
}

func (t *target) setFlags(f *flag.FlagSet) {
	server := os.Getenv(serverEnv)
	if server == "" {
		server = "http://localhost:8080"
	}
	f.StringVar(&t.server, "server", server, "portfolio API base URL (env "+serverEnv+")")
	f.StringVar(&t.user, "user", os.Getenv(userEnv), "user id (env "+userEnv+")")
	f.BoolVar(&t.asJSON, "json", false, "print JSON instead of a table")
}

func (t *target) client() *client.Client {
	return client.New(t.server, t.user)
}

func (t *target) printOne(w io.Writer, h *models.Holding) error {
	if t.asJSON {
		return writeJSON(w, h)
	}
	return t.printAll(w, []models.Holding{*h})
}

func (t *target) printAll(w io.Writer, holdings []models.Holding) error {
	if t.asJSON {
		if holdings == nil {
			holdings = []models.Holding{}
		}
		return writeJSON(w, holdings)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tSHARES\tUPDATED")
	for _, h := range holdings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.StockName, h.StockAmt, h.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail reports err and picks the exit status: local validation problems are
// usage errors, everything else a failure.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	switch {
	case errors.Is(err, client.ErrInvalidTicker),
		errors.Is(err, client.ErrInvalidQuantity),
		errors.Is(err, client.ErrMissingUser):
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

func parseShares(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: -shares is required", client.ErrInvalidQuantity)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", client.ErrInvalidQuantity, s)
	}
	return d, nil
}

type addCmd struct {
	target
	ticker string
	shares string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "add shares to a holding, creating it if needed" }
func (*addCmd) Usage() string {
	return `add -user <id> -ticker <ticker> -shares <n>

  Adds n shares of ticker to the user's portfolio. An existing holding is
  increased; otherwise a new one is created. The ticker must be on the
  supported list and n must be positive.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.StringVar(&c.ticker, "ticker", "", "stock ticker (required)")
	f.StringVar(&c.shares, "shares", "", "number of shares to add (required)")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	qty, err := parseShares(c.shares)
	if err != nil {
		return fail(err)
	}
	h, err := c.client().AddStock(ctx, c.ticker, qty)
	if err != nil {
		return fail(err)
	}
	if err := c.printOne(os.Stdout, h); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type editCmd struct {
	target
	ticker string
	shares string
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "set the share count of an existing holding" }
func (*editCmd) Usage() string {
	return `edit -user <id> -ticker <ticker> -shares <n>

  Replaces the share count of an existing holding with n.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.StringVar(&c.ticker, "ticker", "", "stock ticker (required)")
	f.StringVar(&c.shares, "shares", "", "new number of shares (required)")
}

func (c *editCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	qty, err := parseShares(c.shares)
	if err != nil {
		return fail(err)
	}
	h, err := c.client().EditStock(ctx, c.ticker, qty)
	if err != nil {
		return fail(err)
	}
	if err := c.printOne(os.Stdout, h); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type deleteCmd struct {
	target
	ticker string
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "remove a holding" }
func (*deleteCmd) Usage() string {
	return `delete -user <id> -ticker <ticker>

  Removes the holding and prints its last state.
`
}

func (c *deleteCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.StringVar(&c.ticker, "ticker", "", "stock ticker (required)")
}

func (c *deleteCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	h, err := c.client().DeleteStock(ctx, c.ticker)
	if err != nil {
		return fail(err)
	}
	if err := c.printOne(os.Stdout, h); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type getCmd struct {
	target
	ticker string
}

func (*getCmd) Name() string     { return "get" }
func (*getCmd) Synopsis() string { return "show a single holding" }
func (*getCmd) Usage() string {
	return `get -user <id> -ticker <ticker>
`
}

func (c *getCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.StringVar(&c.ticker, "ticker", "", "stock ticker (required)")
}

func (c *getCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	h, err := c.client().Holding(ctx, c.ticker)
	if err != nil {
		return fail(err)
	}
	if err := c.printOne(os.Stdout, h); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type listCmd struct {
	target
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list every holding of a user" }
func (*listCmd) Usage() string {
	return `list -user <id>
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	p, err := c.client().Portfolio(ctx)
	if err != nil {
		return fail(err)
	}
	if err := c.printAll(os.Stdout, p.Portfolio); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
