// Command seqpool runs a command once per input line, in parallel, and
// prints each result in input order.
//
//	find . -name '*.md' | seqpool -j 8 -- wc -l
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/utkarsh5026/seqpool/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, os.Args[1:], cli.StdIO()); err != nil {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "seqpool: %v\n", err)
		stop()
		os.Exit(1)
	}
}
