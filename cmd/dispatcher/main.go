package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/RichardKnop/dispatcher"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/log"
	"github.com/RichardKnop/dispatcher/tasks"
)

var (
	app        *cli.App
	configPath string
	plainLogs  bool
	count      int
)

func init() {
	// Initialise a CLI app
	app = cli.NewApp()
	app.Name = "dispatcher"
	app.Usage = "launch execution units and report how they completed"
	app.Author = "Richard Knop"
	app.Email = "risoknop@gmail.com"
	app.Version = "0.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "c",
			Value:       "",
			Destination: &configPath,
			Usage:       "Path to a configuration file",
		},
		cli.BoolFlag{
			Name:        "plain",
			Destination: &plainLogs,
			Usage:       "Log without colours",
		},
	}
}

func main() {
	countFlag := cli.IntFlag{
		Name:        "n",
		Value:       0,
		Destination: &count,
		Usage:       "Number of units to launch, launch_count from config when zero",
	}

	// Set the CLI app commands
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "launch units and wait for all of them",
			Action: func(c *cli.Context) error {
				if err := run(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "batch",
			Usage: "launch units as one batch and print their stored states",
			Flags: []cli.Flag{countFlag},
			Action: func(c *cli.Context) error {
				if err := batch(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "schedule",
			Usage: "launch a batch on every tick of the configured cron schedule",
			Flags: []cli.Flag{countFlag},
			Action: func(c *cli.Context) error {
				if err := schedule(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:      "state",
			Usage:     "print the stored state of a task",
			ArgsUsage: "<task uuid>",
			Action: func(c *cli.Context) error {
				if err := state(c.Args().First()); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
	}

	// Run the CLI app
	app.Run(os.Args)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.NewFromYaml(configPath)
	}

	return config.NewFromEnvironment()
}

func startDispatcher() (*dispatcher.Dispatcher, error) {
	if plainLogs {
		log.Plain()
	}

	cnf, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return dispatcher.NewDispatcher(cnf)
}

func batchSize(cnf *config.Config) int {
	if count > 0 {
		return count
	}
	if cnf.LaunchCount > 0 {
		return cnf.LaunchCount
	}
	return config.DefaultLaunchCount
}

// notifySignals delivers SIGINT and SIGTERM unless signal handling is
// disabled, in which case the returned channel never fires
func notifySignals(cnf *config.Config) <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	if !cnf.NoUnixSignals {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	return sig
}

func run() error {
	d, err := startDispatcher()
	if err != nil {
		return err
	}

	errorsChan := make(chan error, 1)
	go func() {
		errorsChan <- d.Run()
	}()

	sig := notifySignals(d.GetConfig())
	quitting := false
	for {
		select {
		case err := <-errorsChan:
			return err
		case s := <-sig:
			if quitting {
				return errors.New("Dispatcher quit abruptly")
			}
			// units are never cancelled, so the first signal only waits
			log.WARNING.Printf("Signal received: %v, waiting for running units to finish", s)
			quitting = true
		}
	}
}

func batch() error {
	d, err := startDispatcher()
	if err != nil {
		return err
	}

	batchResult, err := d.LaunchBatch(context.Background(), batchSize(d.GetConfig()))
	if err != nil {
		return err
	}

	_, waitErr := batchResult.Wait()

	states, err := batchResult.GetStates()
	if err != nil {
		log.WARNING.Printf("Could not read states of batch %s: %v", batchResult.GroupUUID, err)
	}
	for _, taskState := range states {
		fmt.Printf("%s\t%s\t%s\n", taskState.TaskUUID, taskState.State, tasks.HumanReadableResults(taskState.Results))
	}

	return waitErr
}

func schedule() error {
	d, err := startDispatcher()
	if err != nil {
		return err
	}

	cnf := d.GetConfig()
	if cnf.Schedule == "" {
		return errors.New("Schedule not configured")
	}

	if err := d.RegisterPeriodicBatch(cnf.Schedule, cnf.UnitName, batchSize(cnf)); err != nil {
		return err
	}
	log.INFO.Printf("Launching batches on schedule %q", cnf.Schedule)

	s := <-notifySignals(cnf)
	log.WARNING.Printf("Signal received: %v, stopping the scheduler", s)
	<-d.StopScheduler().Done()
	return nil
}

func state(taskUUID string) error {
	if taskUUID == "" {
		return errors.New("Task UUID required")
	}

	d, err := startDispatcher()
	if err != nil {
		return err
	}

	taskState, err := d.GetBackend().GetState(taskUUID)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\t%s\n", taskState.TaskUUID, taskState.State, tasks.HumanReadableResults(taskState.Results))
	return nil
}
