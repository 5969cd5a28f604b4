package cmds

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/k3s-io/edge-proxy/pkg/version"
)

var (
	Debug     bool
	DebugFlag = &cli.BoolFlag{
		Name:        "debug",
		Usage:       "(logging) Turn on debug logs",
		Destination: &Debug,
		EnvVars:     []string{version.ProgramUpper() + "_DEBUG"},
	}
)

// DebugContext wraps an action, raising the log level to debug before it
// runs when --debug was set.
func DebugContext(f func(*cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		if Debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if f != nil {
			return f(ctx)
		}
		return nil
	}
}
