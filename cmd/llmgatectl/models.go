package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
	chiTransport "github.com/kailas-cloud/llmgate/internal/transport/chi"
)

// ModelsCmd lists the server's models with prices.
type ModelsCmd struct {
	app *App
}

// Execute implements flags.Commander.
func (c *ModelsCmd) Execute(_ []string) error {
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	models, err := client.Models(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.app.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tAPI\tINPUT $/M\tOUTPUT $/M\tQUALITIES")
	for _, m := range models {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%s\n",
			m.Name, m.API, m.Pricing.Input, m.Pricing.Output, strings.Join(m.Qualities, ","))
	}
	return tw.Flush()
}

// TokenCmd signs a JWT accepted by a server configured with the same secret.
type TokenCmd struct {
	Secret  string        `long:"secret" env:"LLMGATE_JWT_SECRET" required:"true" description:"HS256 signing secret"`
	Issuer  string        `long:"issuer" env:"LLMGATE_JWT_ISSUER" description:"token issuer"`
	Account string        `short:"a" long:"account" required:"true" description:"account ID (subject)"`
	Role    string        `short:"r" long:"role" description:"role used for rate limits"`
	TTL     time.Duration `long:"ttl" default:"24h" description:"token lifetime"`

	app *App
}

// Execute implements flags.Commander.
func (c *TokenCmd) Execute(_ []string) error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	token, err := chiTransport.IssueToken(c.Secret, c.Issuer, domain.Principal{
		AccountID: c.Account,
		Role:      c.Role,
	}, c.TTL)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.app.out, token)
	return nil
}
