package cmds

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Log holds the logging-destination flags every subcommand shares.
type Log struct {
	LogFile         string
	AlsoLogToStderr bool
}

var (
	LogConfig Log

	LogFile = &cli.StringFlag{
		Name:        "log",
		Aliases:     []string{"l"},
		Usage:       "(logging) Log to file",
		Destination: &LogConfig.LogFile,
	}
	AlsoLogToStderr = &cli.BoolFlag{
		Name:        "alsologtostderr",
		Usage:       "(logging) Log to standard error as well as file (if set)",
		Destination: &LogConfig.AlsoLogToStderr,
	}

	logSetupOnce sync.Once
)

// InitLogging wraps an action, routing logrus output to LogConfig.LogFile
// (rotated with lumberjack, the same rotation library the teacher uses for
// its own --log flag) before running it.
func InitLogging(action func(*cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		var err error
		logSetupOnce.Do(func() {
			if checkErr := checkUnixTimestamp(); checkErr != nil {
				err = checkErr
				return
			}
			setupLogging()
		})
		if err != nil {
			return err
		}
		if action != nil {
			return action(ctx)
		}
		return nil
	}
}

func checkUnixTimestamp() error {
	timeNow := time.Now()
	// check if time before 01/01/1980
	if timeNow.Before(time.Unix(315532800, 0)) {
		return fmt.Errorf("system time isn't set properly: %v", timeNow)
	}
	return nil
}

func setupLogging() {
	if LogConfig.LogFile == "" {
		return
	}

	var out io.Writer = &lumberjack.Logger{
		Filename:   LogConfig.LogFile,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	if LogConfig.AlsoLogToStderr {
		out = io.MultiWriter(out, os.Stderr)
	}
	logrus.SetOutput(out)
}
