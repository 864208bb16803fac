package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/boertel/aoe2/pkg/common/logger"
)

func main() {
	logger.Init()

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
