// Command llmgatectl is a command-line client for the llmgate API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	app := &App{out: out}
	parser := newParser(app)
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			_, _ = fmt.Fprintln(out, ferr.Message)
			return nil
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
