// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/gatekeeper/launcher"
	"github.com/bureau-foundation/gatekeeper/lib/config"
	"github.com/bureau-foundation/gatekeeper/lib/tripwire"
	"github.com/bureau-foundation/gatekeeper/session"
)

// parseFlags parses args and maps --help to a nil error with help set.
func parseFlags(flagSet *pflag.FlagSet, args []string) (help bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, usageError("%v", err)
	}
	return false, nil
}

// runCmd implements the "run" command.
func runCmd(args []string) error {
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	var flags commonFlags
	flags.register(flagSet)
	noBwrap := flagSet.Bool("no-bwrap", false, "run the command directly instead of inside bubblewrap")
	dryRun := flagSet.Bool("dry-run", false, "print the launch command without running anything")

	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `bureau-gatekeeper run - Launch a command and monitor its process tree

USAGE
    bureau-gatekeeper run [flags] -- <command> [args...]

FLAGS
`)
		flagSet.PrintDefaults()
	}

	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	command := flagSet.Args()
	if len(command) == 0 {
		return usageError("command is required after --")
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	if *noBwrap {
		cfg.Launcher.Bwrap = false
	}
	logger := newLogger(cfg)

	rules, err := buildRules(cfg)
	if err != nil {
		return err
	}
	argv, err := launchArgv(cfg, rules, command)
	if err != nil {
		return err
	}
	if *dryRun {
		fmt.Println(strings.Join(argv, " \\\n  "))
		return nil
	}
	if cfg.Launcher.Bwrap {
		if err := os.MkdirAll(rules.Sanctioned[0], 0o700); err != nil {
			return fmt.Errorf("creating sanctioned directory: %w", err)
		}
	}

	reportTripwire(cfg, logger)

	sess, loop, err := newSession(cfg, rules, logger)
	if err != nil {
		return err
	}
	defer loop.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	stopSignals := handleSignals(cancel, logger)
	defer stopSignals()

	if err := sess.Open(ctx); err != nil {
		return err
	}

	launched := make(chan *launcher.Process, 1)
	err = sess.Launch(func() (session.Launched, error) {
		process, err := launcher.Start(ctx, argv, logger)
		launched <- process
		if err != nil {
			return nil, err
		}
		go func() {
			<-process.Done()
			cancel(nil)
		}()
		return process, nil
	})
	if err != nil {
		sess.Close()
		return err
	}

	runErr := sess.Run(ctx)
	// Closing the channel releases any request still pending, which
	// lets a launch blocked in exec finish.
	closeErr := sess.Close()
	logStats(logger, sess)

	process := <-launched
	if process == nil {
		return errors.Join(runErr, closeErr)
	}
	if runErr != nil {
		if err := process.Kill(); err != nil {
			logger.Error("killing monitored command", "error", err)
		}
	}
	code, waitErr := process.Wait()
	switch {
	case runErr != nil:
		return runErr
	case waitErr != nil:
		return fmt.Errorf("waiting for monitored command: %w", waitErr)
	case code != 0:
		return &childExit{code: code}
	}
	return closeErr
}

// watchCmd implements the "watch" command.
func watchCmd(args []string) error {
	flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	var flags commonFlags
	flags.register(flagSet)
	pid := flagSet.Int32("pid", 0, "root of the process tree to monitor (required)")

	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `bureau-gatekeeper watch - Monitor an already running process tree

USAGE
    bureau-gatekeeper watch --pid <pid> [flags]

Runs until SIGINT or SIGTERM.

FLAGS
`)
		flagSet.PrintDefaults()
	}

	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return usageError("unexpected argument: %s", flagSet.Arg(0))
	}
	if *pid <= 0 {
		return usageError("--pid is required")
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if _, err := os.Stat(filepath.Join(cfg.Gatekeeper.ProcRoot, strconv.Itoa(int(*pid)))); err != nil {
		return fmt.Errorf("process %d: %w", *pid, err)
	}

	rules, err := buildRules(cfg)
	if err != nil {
		return err
	}
	reportTripwire(cfg, logger)

	sess, loop, err := newSession(cfg, rules, logger)
	if err != nil {
		return err
	}
	defer loop.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	stopSignals := handleSignals(cancel, logger)
	defer stopSignals()

	if err := sess.Start(ctx, *pid); err != nil {
		sess.Close()
		return err
	}
	runErr := sess.Run(ctx)
	closeErr := sess.Close()
	logStats(logger, sess)
	return errors.Join(runErr, closeErr)
}

// statusCmd implements the "status" command.
func statusCmd(args []string) error {
	flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to the YAML config file")
	clearRecord := flagSet.Bool("clear", false, "remove the tripwire record after printing it")

	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, `bureau-gatekeeper status - Show the tripwire left by a breached session

USAGE
    bureau-gatekeeper status [--clear] [--config <path>]

FLAGS
`)
		flagSet.PrintDefaults()
	}

	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	flags := commonFlags{configPath: *configPath}
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	return printStatus(os.Stdout, cfg, *clearRecord, time.Now())
}

// printStatus writes the tripwire record, if any, and optionally clears it.
func printStatus(out io.Writer, cfg *config.Config, clearRecord bool, now time.Time) error {
	path := cfg.KillSwitch.Tripwire
	record, err := tripwire.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "no breach recorded")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprint(out, formatRecord(record, now))
	if clearRecord {
		if err := tripwire.Clear(path); err != nil {
			return err
		}
		fmt.Fprintln(out, "tripwire cleared")
	}
	return nil
}

func formatRecord(record tripwire.Record, now time.Time) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "breach recorded %s ago (%s)\n",
		now.Sub(record.Timestamp).Round(time.Second), record.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&builder, "  component: %s\n", record.Component)
	fmt.Fprintf(&builder, "  operation: %s\n", record.Op)
	if record.RootPID != 0 {
		fmt.Fprintf(&builder, "  root pid:  %d\n", record.RootPID)
	}
	if record.Rules != "" {
		fmt.Fprintf(&builder, "  rules:     %s\n", record.Rules)
	}
	fmt.Fprintf(&builder, "  error:     %s\n", record.Error)
	return builder.String()
}
