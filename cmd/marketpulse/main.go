// Command marketpulse aggregates crypto and equity prices and delivers
// price alerts.
package main

import (
	"context"
	"fmt"
	"os"

	"marketpulse/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
