package cmds

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/k3s-io/edge-proxy/pkg/version"
)

func init() {
	// hack - force "file,dns" lookup order if go dns is used
	if os.Getenv("RES_OPTIONS") == "" {
		os.Setenv("RES_OPTIONS", " ")
	}
}

// NewApp returns the root *cli.App carrying the global logging flags every
// subcommand inherits, mirroring the teacher's cmds.NewApp shape trimmed to
// the flags this proxy actually has.
func NewApp() *cli.App {
	app := cli.NewApp()
	app.Name = version.Program
	app.Usage = "A lightweight reverse HTTP/TLS proxy"
	app.Version = fmt.Sprintf("%s (%s)", version.Version, version.GitCommit)
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("%s version %s\n", c.App.Name, c.App.Version)
		fmt.Printf("go version %s\n", runtime.Version())
	}
	app.Flags = []cli.Flag{
		DebugFlag,
	}

	return app
}
