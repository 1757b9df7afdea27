package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/ledger-transfer/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger-transfer: %v\n", err)
		os.Exit(1)
	}
}
