// Package main runs the PAROL6 commander: the control loop plus its UDP
// command server.
package main

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"parol6"
)

var logger = logging.NewLogger("commander")

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,default=config.yaml,usage=YAML or JSON config file"`
	Port       string `flag:"port,usage=serial port or auto to scan"`
	AutoHome   bool   `flag:"auto-home,usage=home the robot on startup"`
	Debug      bool   `flag:"debug"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}

	cfg, err := parol6.LoadConfig(argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if argsParsed.Port != "" {
		cfg.Port = argsParsed.Port
	}
	if argsParsed.AutoHome {
		cfg.AutoHome = true
	}

	c, err := parol6.NewController(cfg, clock.New(), logger)
	if err != nil {
		return err
	}
	logger.Infof("Listening for commands on %s, ACKs to port %d", c.CommandAddr(), cfg.AckPort)
	return c.Run(ctx)
}
