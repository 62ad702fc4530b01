package main

import (
	"fmt"
	"os"

	"github.com/kbukum/execkit/logger"
)

func main() {
	err := newRootCmd(os.Stdout, os.Stderr).Execute()
	if err == nil {
		return
	}
	if code, ok := exitCode(err); ok {
		os.Exit(code)
	}
	logger.Error("execkit failed", logger.ErrorFields("execute", err))
	fmt.Fprintln(os.Stderr, "execkit:", err)
	os.Exit(1)
}
