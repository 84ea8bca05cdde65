// Command service is a sample execution unit. It waits for an optional
// delay, then either sends its message to the dispatcher or exits with the
// configured code.
package main

import (
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/units/envelope"
)

// payload is what the dispatcher hands over, every field optional
type payload struct {
	Message  *string `json:"message"`
	Delay    string  `json:"delay"`
	ExitCode *int    `json:"exit_code"`
}

var (
	app      *cli.App
	delay    time.Duration
	message  string
	exitCode int
)

func init() {
	app = cli.NewApp()
	app.Name = "service"
	app.Usage = "sample execution unit launched by the dispatcher"
	app.Version = "0.0.0"
	app.Flags = []cli.Flag{
		cli.DurationFlag{
			Name:        "delay",
			Destination: &delay,
			Usage:       "Wait this long before finishing",
		},
		cli.StringFlag{
			Name:        "message",
			Value:       "done",
			Destination: &message,
			Usage:       "Message sent to the dispatcher",
		},
		cli.IntFlag{
			Name:        "exit-code",
			Destination: &exitCode,
			Usage:       "Exit with this code instead of sending the message when non-zero",
		},
	}
	app.Action = func(c *cli.Context) error {
		return serve()
	}
}

func main() {
	log.Plain()
	if err := app.Run(os.Args); err != nil {
		log.ERROR.Print(err)
		os.Exit(1)
	}
}

func serve() error {
	var p payload
	if err := envelope.Payload(&p); err != nil {
		return err
	}
	if p.Message != nil {
		message = *p.Message
	}
	if p.ExitCode != nil {
		exitCode = *p.ExitCode
	}
	if p.Delay != "" {
		d, err := time.ParseDuration(p.Delay)
		if err != nil {
			return envelope.Fail(os.Stdout, err)
		}
		delay = d
	}

	time.Sleep(delay)

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return envelope.Send(os.Stdout, message)
}
