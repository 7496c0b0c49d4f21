package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kailas-cloud/llmgate/pkg/sdk"
)

// UsageCmd prints the caller's usage summary.
type UsageCmd struct {
	Period string `short:"p" long:"period" default:"month" description:"day|month"`

	app *App
}

// Execute implements flags.Commander.
func (c *UsageCmd) Execute(_ []string) error {
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	report, err := client.Usage(ctx, sdk.UsagePeriod(c.Period))
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.app.out, "Usage %s to %s\n\n",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	tw := tabwriter.NewWriter(c.app.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tMESSAGES\tTOKENS\tCOST")
	for _, m := range report.Models {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", m.Model, m.Messages, m.TokensUsed, dollars(m.CostCents))
	}
	t := report.Total
	_, _ = fmt.Fprintf(tw, "total\t%d\t%d\t%s\n", t.Messages, t.TokensUsed, dollars(t.CostCents))
	return tw.Flush()
}
