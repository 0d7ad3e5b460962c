package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes of the sensors command.
const (
	ExitError    = 1
	ExitIdentity = 2
	ExitVerify   = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
