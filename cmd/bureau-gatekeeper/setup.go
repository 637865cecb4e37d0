// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/gatekeeper/gatekeeper"
	"github.com/bureau-foundation/gatekeeper/launcher"
	"github.com/bureau-foundation/gatekeeper/lib/config"
	"github.com/bureau-foundation/gatekeeper/lib/eventloop"
	"github.com/bureau-foundation/gatekeeper/lib/tripwire"
	"github.com/bureau-foundation/gatekeeper/lib/version"
	"github.com/bureau-foundation/gatekeeper/session"
)

// commonFlags are shared by run and watch.
type commonFlags struct {
	configPath string
	mount      string
	sanctioned []string
	deny       []string
	debug      bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to the YAML config file (default: $GATEKEEPER_CONFIG, else built-in defaults)")
	flagSet.StringVar(&f.mount, "mount", "", "path on the mount to gate (overrides gatekeeper.mount)")
	flagSet.StringArrayVar(&f.sanctioned, "sanctioned", nil, "sanctioned directory, repeatable (replaces gatekeeper.sanctioned)")
	flagSet.StringArrayVar(&f.deny, "deny", nil, "directory whose accesses are refused, repeatable (added to gatekeeper.deny)")
	flagSet.BoolVar(&f.debug, "debug", false, "log every answered request")
}

// loadConfig reads the config file, applies flag overrides, and
// validates the result.
func (f *commonFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if f.mount != "" {
		cfg.Gatekeeper.Mount = f.mount
	}
	if len(f.sanctioned) > 0 {
		cfg.Gatekeeper.Sanctioned = f.sanctioned
	}
	cfg.Gatekeeper.Deny = append(cfg.Gatekeeper.Deny, f.deny...)
	if f.debug || os.Getenv("BUREAU_DEBUG") != "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	// Text for a person at a terminal, JSON for journald and scripts.
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	logger := slog.New(handler)
	logger.LogAttrs(context.Background(), slog.LevelDebug, binaryName+" starting", version.Attrs()...)
	return logger
}

// buildRules merges the config's directories with the optional rules file.
func buildRules(cfg *config.Config) (gatekeeper.Rules, error) {
	rules := gatekeeper.Rules{
		Sanctioned: cfg.Gatekeeper.Sanctioned,
		Deny:       cfg.Gatekeeper.Deny,
	}
	if cfg.Gatekeeper.RulesFile == "" {
		return rules, nil
	}
	fileRules, err := gatekeeper.LoadRules(cfg.Gatekeeper.RulesFile)
	if err != nil {
		return gatekeeper.Rules{}, err
	}
	return rules.Merge(fileRules), nil
}

// reportTripwire warns about a recent breach left by an earlier session.
func reportTripwire(cfg *config.Config, logger *slog.Logger) {
	maxAge, err := cfg.TripwireMaxAge()
	if err != nil {
		return
	}
	record, found, err := tripwire.Check(cfg.KillSwitch.Tripwire, maxAge, nil)
	if err != nil {
		logger.Warn("cannot read tripwire record", "path", cfg.KillSwitch.Tripwire, "error", err)
		return
	}
	if found {
		logger.Warn("previous session ended in a breach (see \"bureau-gatekeeper status\")",
			"op", record.Op,
			"root_pid", record.RootPID,
			"at", record.Timestamp,
			"error", record.Error,
		)
	}
}

// newSession wires the channel, its policy, and the event loop.
func newSession(cfg *config.Config, rules gatekeeper.Rules, logger *slog.Logger) (*session.Session, *eventloop.Loop, error) {
	class, err := gatekeeper.ParseClass(cfg.Gatekeeper.Class)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("rules loaded",
		"sanctioned", len(rules.Sanctioned),
		"deny", len(rules.Deny),
		"digest", rules.Digest(),
	)
	ancestry := gatekeeper.NewAncestry(gatekeeper.ProcFS{Root: cfg.Gatekeeper.ProcRoot}, logger)
	channel := gatekeeper.NewChannel(gatekeeper.ChannelConfig{
		Ancestry: ancestry,
		Policy:   gatekeeper.NewPathPolicy(rules, logger),
		Class:    class,
		Logger:   logger,
	})

	loop, err := eventloop.New(logger)
	if err != nil {
		return nil, nil, err
	}
	sess, err := session.New(session.Config{
		Channel:      channel,
		Loop:         loop,
		Mount:        cfg.Gatekeeper.Mount,
		KillCommands: cfg.KillSwitch.Commands,
		TripwirePath: cfg.KillSwitch.Tripwire,
		RulesDigest:  rules.Digest(),
		Logger:       logger,
	})
	if err != nil {
		loop.Close()
		return nil, nil, err
	}
	return sess, loop, nil
}

// launchArgv returns the argv that runs command, wrapped in bubblewrap
// when the launcher is configured for it.
func launchArgv(cfg *config.Config, rules gatekeeper.Rules, command []string) ([]string, error) {
	if !cfg.Launcher.Bwrap {
		return command, nil
	}
	if len(rules.Sanctioned) == 0 {
		return nil, fmt.Errorf("the bubblewrap sandbox needs a sanctioned directory to use as home")
	}
	home, err := config.HomeDirectory()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	bwrapPath, err := cfg.BwrapBinary()
	if err != nil {
		return nil, err
	}
	return launcher.Wrap(bwrapPath, &launcher.Options{
		Home:       home,
		Sanctioned: rules.Sanctioned[0],
		DecoyDir:   cfg.Launcher.DecoyDir,
		Hostname:   cfg.Launcher.Hostname,
		Setenv:     cfg.Launcher.Setenv,
		Command:    command,
	})
}

// handleSignals cancels the session on SIGINT or SIGTERM and trips the
// kill switch on SIGUSR1. The returned function stops handling.
func handleSignals(cancel context.CancelCauseFunc, logger *slog.Logger) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case received := <-signals:
				if received == syscall.SIGUSR1 {
					logger.Warn("manual kill switch requested")
					cancel(session.ErrManualTrip)
					continue
				}
				logger.Info("signal received, shutting down", "signal", received)
				cancel(nil)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func logStats(logger *slog.Logger, sess *session.Session) {
	stats := sess.Stats()
	logger.Info("session finished",
		"events", stats.Events,
		"allowed", stats.Allowed,
		"denied", stats.Denied,
		"skipped", stats.Skipped,
		"overflows", stats.Overflows,
	)
}
