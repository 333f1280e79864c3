// Command promptlab optimizes and A/B tests prompts against local and hosted
// language models.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorBlockStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
