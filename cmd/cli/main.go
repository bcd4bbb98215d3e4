// Package main is a small command line client for a running commander.
//
//	cli HOME
//	cli 'MOVEJOINT|0,-45,180,0,0,180|2.0|NONE'
//	cli GET_ANGLES
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"parol6"
	"parol6/client"
)

// Arguments for the command.
type Arguments struct {
	Command string `flag:"0,required,usage=command to send such as HOME or GET_ANGLES"`
	Server  string `flag:"server,default=127.0.0.1:5001,usage=commander address"`
	AckPort int    `flag:"ack-port,default=5002,usage=local port for ACKs"`
	Timeout int    `flag:"timeout,default=30,usage=seconds to wait for the command to finish"`
	NoWait  bool   `flag:"no-wait,usage=send without waiting for ACKs"`
}

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("parol6-cli")

	var args Arguments
	if err := utils.ParseFlags(os.Args, &args); err != nil {
		return err
	}

	c, err := client.New(client.Config{ServerAddr: args.Server, AckPort: args.AckPort}, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(args.Timeout)*time.Second)
	defer cancel()

	if strings.HasPrefix(strings.ToUpper(args.Command), "GET_") {
		payload, err := c.Query(ctx, args.Command)
		if err != nil {
			return err
		}
		fmt.Println(payload)
		return nil
	}

	if args.NoWait {
		return c.SendRaw(args.Command)
	}

	id, err := c.Send(args.Command)
	if err != nil {
		return err
	}
	logger.Infof("Sent %s as %s", args.Command, id)

	a, err := c.Follow(ctx, id, func(a client.Ack) {
		logger.Infof("%s %s", a.Status, a.Details)
	})
	if err != nil {
		return err
	}
	if a.Status != parol6.AckCompleted {
		return errors.Errorf("%s: %s", a.Status, a.Details)
	}
	return nil
}
