package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kailas-cloud/llmgate/pkg/sdk"
)

// LimitsCmd groups the rate limit commands.
type LimitsCmd struct {
	Show LimitsShowCmd `command:"show" description:"Show your quota counters for a model"`
	List LimitsListCmd `command:"list" description:"List every rate limit policy (admin)"`
	Set  LimitsSetCmd  `command:"set" description:"Create or replace a rate limit policy (admin)"`
}

// LimitsShowCmd prints the caller's counters for one model.
type LimitsShowCmd struct {
	Model string `short:"m" long:"model" required:"true" description:"model name"`

	app *App
}

// Execute implements flags.Commander.
func (c *LimitsShowCmd) Execute(_ []string) error {
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	l, err := client.Limits(ctx, c.Model)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.app.out, "%s\n  requests today: %s\n  tokens this month: %s\n",
		l.Model, ratio(l.Daily), ratio(l.Monthly))
	return nil
}

// LimitsListCmd prints every stored policy.
type LimitsListCmd struct {
	app *App
}

// Execute implements flags.Commander.
func (c *LimitsListCmd) Execute(_ []string) error {
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	policies, err := client.ListLimits(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.app.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tROLE\tDAILY REQUESTS\tMONTHLY TOKENS")
	for _, p := range policies {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Model, p.Role, limit(p.DailyRequestLimit), limit(p.MonthlyTokenLimit))
	}
	return tw.Flush()
}

// LimitsSetCmd upserts one policy.
type LimitsSetCmd struct {
	Model   string `short:"m" long:"model" required:"true" description:"model name"`
	Role    string `short:"r" long:"role" required:"true" description:"role the policy applies to"`
	Daily   int64  `long:"daily" description:"daily request limit (0 = unlimited)"`
	Monthly int64  `long:"monthly" description:"monthly token limit (0 = unlimited)"`

	app *App
}

// Execute implements flags.Commander.
func (c *LimitsSetCmd) Execute(_ []string) error {
	if c.Daily < 0 || c.Monthly < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	err = client.SetLimit(ctx, sdk.RateLimit{
		Model:             c.Model,
		Role:              c.Role,
		DailyRequestLimit: c.Daily,
		MonthlyTokenLimit: c.Monthly,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.app.out, "%s/%s: %s requests per day, %s tokens per month\n",
		c.Model, c.Role, limit(c.Daily), limit(c.Monthly))
	return nil
}

func limit(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

func ratio(u sdk.QuotaUsage) string {
	return fmt.Sprintf("%d / %s", u.Used, limit(u.Limit))
}
