package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/matzehuels/depscan/internal/cli"
	"github.com/matzehuels/depscan/pkg/errors"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitBadInput    = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	root := cli.New(stderr, cli.LogInfo).RootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil && !stderrors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "Error:", errors.UserMessage(err))
	}
	return exitCode(err)
}

// exitCode maps a command error to the process status. Input problems the
// user can fix get their own code so scripts can tell them from lookups
// that failed for other reasons.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case stderrors.Is(err, context.Canceled):
		return exitInterrupted
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeEmptyInput, errors.ErrCodeNoDependencies,
		errors.ErrCodeInvalidInput, errors.ErrCodeInvalidConfig:
		return exitBadInput
	}
	return exitFailure
}
