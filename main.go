package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/drlcore/agent"
	"github.com/samuelfneumann/drlcore/experiment"
	"github.com/samuelfneumann/drlcore/experiment/tracker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "drlcore: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drlcore", flag.ContinueOnError)
	configFile := fs.String("config", "", "JSON experiment configuration")
	kind := fs.String("kind", "", "train an agent of this kind with the "+
		"default configuration instead of reading -config")
	dir := fs.String("dir", "", "override the run directory")
	level := fs.String("log-level", "info", "log level")
	pretty := fs.Bool("pretty", false, "human readable logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		return err
	}
	var logger zerolog.Logger
	if *pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.Level(lvl).With().Timestamp().Logger()

	c, err := loadConfig(*configFile, agent.PolicyKind(*kind))
	if err != nil {
		return err
	}
	if *dir != "" {
		c.Dir = *dir
	}

	store, err := tracker.NewStore(c.Store, c.StorePath)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("could not initialize store: %v", err)
	}
	defer tracker.CloseIfSupported(store)

	loop, err := experiment.NewTrainingLoop(c, store, logger)
	if err != nil {
		return err
	}
	defer loop.Close()

	if err := loop.Run(ctx); err != nil {
		return err
	}

	if mem, ok := store.(*tracker.MemoryStore); ok {
		filename := filepath.Join(c.Dir, "records.gob")
		if err := mem.Export(loop.RunID(), filename); err != nil {
			return err
		}
		logger.Info().Str("file", filename).Msg("saved evaluation records")
	}
	return nil
}

// loadConfig reads the experiment configuration in filename, or
// returns the default configuration of kind if filename is empty
func loadConfig(filename string, kind agent.PolicyKind) (experiment.Config,
	error) {
	if filename == "" {
		if kind == "" {
			return experiment.Config{}, fmt.Errorf("one of -config or " +
				"-kind is required")
		}
		c, err := experiment.DefaultConfig(kind)
		if err != nil {
			return experiment.Config{}, err
		}
		if kind.Discrete() {
			c.Env = experiment.EnvConfig{Name: "cartpole", EpisodeSteps: 500}
		}
		return c, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return experiment.Config{}, fmt.Errorf("could not read config: %v",
			err)
	}
	var c experiment.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return experiment.Config{}, fmt.Errorf("could not decode config: "+
			"%v", err)
	}
	return c, nil
}
