package cmds

import (
	"github.com/urfave/cli/v2"

	"github.com/k3s-io/edge-proxy/pkg/version"
)

// Proxy holds the parsed values of the "run" command's flags.
type Proxy struct {
	ConfigFile  string
	Watch       bool
	Restart     bool
	RestartGen  uint
	CoordSocket string
}

var (
	ProxyConfig Proxy

	ConfigFileFlag = &cli.StringFlag{
		Name:        "config-file",
		Aliases:     []string{"c"},
		Usage:       "(config) Path to the TOML configuration file",
		Destination: &ProxyConfig.ConfigFile,
		Required:    true,
	}
	WatchFlag = &cli.BoolFlag{
		Name:        "watch",
		Usage:       "(config) Watch the configuration file and hot-reload the Backend Registry and Certificate Store on change",
		Destination: &ProxyConfig.Watch,
	}
	RestartFlag = &cli.BoolFlag{
		Name:        "restart",
		Usage:       "(lifecycle) Request a hot restart of an already-running instance over the coordination socket, then exit",
		Destination: &ProxyConfig.Restart,
	}
	RestartGenFlag = &cli.UintFlag{
		Name:        "restart-generation",
		Usage:       "(lifecycle) Restart generation to request; refused above 4 (a fixed limit)",
		Destination: &ProxyConfig.RestartGen,
		Value:       1,
	}
	CoordSocketFlag = &cli.StringFlag{
		Name:        "coord-socket",
		Usage:       "(lifecycle) Path to the coordination UNIX socket used for hot restart handshakes",
		Destination: &ProxyConfig.CoordSocket,
		Value:       "/run/edge-proxy/coord.sock",
	}
)

// ProxyFlags is the full flag set for the "run" command.
var ProxyFlags = []cli.Flag{
	ConfigFileFlag,
	WatchFlag,
	RestartFlag,
	RestartGenFlag,
	CoordSocketFlag,
	DebugFlag,
	LogFile,
	AlsoLogToStderr,
}

// NewRunCommand builds the "run" subcommand, wiring action through the
// logging and debug wrappers the same way the teacher layers
// InitLogging(DebugContext(action)) over its server command's action.
func NewRunCommand(action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the reverse proxy",
		UsageText: version.Program + " run [OPTIONS]",
		Action:    InitLogging(DebugContext(action)),
		Flags:     ProxyFlags,
	}
}
