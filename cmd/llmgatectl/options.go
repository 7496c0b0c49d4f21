package main

import (
	"context"
	"io"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/kailas-cloud/llmgate/internal/version"
	"github.com/kailas-cloud/llmgate/pkg/sdk"
)

// App is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type App struct {
	Server  string `short:"s" long:"server" env:"LLMGATE_SERVER" default:"http://localhost:8080" description:"llmgate base URL"`
	Token   string `short:"t" long:"token" env:"LLMGATE_TOKEN" description:"bearer API key or JWT"`
	Timeout int    `long:"timeout" default:"300" description:"request timeout in seconds"`

	Chat   ChatCmd   `command:"chat" description:"Send a message and stream the reply"`
	Usage  UsageCmd  `command:"usage" description:"Show usage for the current day or month"`
	Limits LimitsCmd `command:"limits" description:"Show or manage rate limits"`
	Models ModelsCmd `command:"models" description:"List the models the server accepts"`
	Issue  TokenCmd  `command:"token" description:"Sign a JWT for an account"`

	out io.Writer
}

func newParser(app *App) *flags.Parser {
	app.Chat.app = app
	app.Usage.app = app
	app.Limits.Show.app = app
	app.Limits.List.app = app
	app.Limits.Set.app = app
	app.Models.app = app
	app.Issue.app = app
	return flags.NewParser(app, flags.HelpFlag|flags.PassDoubleDash)
}

func (a *App) client() (*sdk.Client, error) {
	return sdk.New(a.Server,
		sdk.WithToken(a.Token),
		sdk.WithUserAgent("llmgatectl/"+version.Version),
	)
}

func (a *App) requestContext() (context.Context, context.CancelFunc) {
	if a.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(a.Timeout)*time.Second)
}
