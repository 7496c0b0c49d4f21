package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/llmgate/pkg/sdk"
)

// ChatCmd streams one reply to stdout.
type ChatCmd struct {
	Model   string `short:"m" long:"model" description:"model name (server default when empty)"`
	Mode    string `long:"mode" description:"tuning preset: auto|instant|thinking|pro"`
	Session string `short:"c" long:"session" description:"session ID to continue"`
	Args    struct {
		Message []string `positional-arg-name:"message" required:"1"`
	} `positional-args:"yes"`

	app *App
}

// Execute implements flags.Commander.
func (c *ChatCmd) Execute(_ []string) error {
	client, err := c.app.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.app.requestContext()
	defer cancel()

	stream, err := client.Chat(ctx, sdk.ChatRequest{
		Message:   strings.Join(c.Args.Message, " "),
		Model:     c.Model,
		Mode:      c.Mode,
		SessionID: c.Session,
	})
	if q, ok := sdk.IsQuotaExceeded(err); ok {
		_, _ = fmt.Fprintf(c.app.out, "%s. Resets at %s.\n", q.Reason, q.ResetAt.Local().Format("2006-01-02 15:04 MST"))
		return err
	}
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	out := c.app.out
	for stream.Next() {
		if ev := stream.Event(); ev.Type == sdk.EventToken {
			_, _ = fmt.Fprint(out, ev.Text)
		}
	}
	_, _ = fmt.Fprintln(out)

	var se *sdk.StreamError
	if err := stream.Err(); errors.As(err, &se) {
		_, _ = fmt.Fprintln(out, "error:", se.Message)
		return err
	} else if err != nil {
		return err
	}

	res := stream.Result()
	_, _ = fmt.Fprintf(out, "session %s, %d tokens, %s\n", res.SessionID, res.Tokens, dollars(res.CostCents))
	return nil
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
