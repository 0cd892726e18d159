package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pipelined.dev/graph"
	"pipelined.dev/graph/log"
	"pipelined.dev/graph/metric"
)

type playCommand struct {
	app      *app
	stats    bool
	progress time.Duration
}

func newPlayCommand(a *app) *cobra.Command {
	p := &playCommand{app: a}
	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Play a wav or mp3 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	flags := cmd.Flags()
	flags.String("device", "null", "output device: null, oto, portaudio, winmm")
	flags.Int("volume", 0, "attenuation in hundredths of a decibel, -10000..0")
	flags.Int("balance", 0, "balance in hundredths of a decibel, -10000..10000")
	flags.Bool("realtime", true, "pace the null device in real time")
	flags.Int("buffers", 4, "number of read buffers")
	flags.Int("size", 4096, "size of read buffers")
	flags.BoolVar(&p.stats, "stats", false, "print metrics when done")
	flags.DurationVar(&p.progress, "progress", time.Second, "position logging interval, zero disables it")
	return cmd
}

func (p *playCommand) run(ctx context.Context, out io.Writer, path string) error {
	c := p.app.config
	d, err := newDevice(c)
	if err != nil {
		return err
	}
	s, err := openStore(path)
	if err != nil {
		return err
	}
	pb, err := newPlayback(c, s, d)
	if err != nil {
		return err
	}
	defer pb.close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	if err := pb.run(); err != nil {
		return err
	}

	finished := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(finished)
		e, err := pb.events.WaitForCompletion(ctx)
		if err != nil {
			return err
		}
		if e.Code != graph.EventComplete {
			return errors.Errorf("playback stopped with %v", e.Code)
		}
		return nil
	})
	g.Go(func() error {
		if p.progress <= 0 {
			return nil
		}
		logger := log.GetLogger()
		ticker := time.NewTicker(p.progress)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logger.Infof("position %v", pb.sink.Now().Truncate(time.Millisecond))
			case <-finished:
				return nil
			}
		}
	})
	err = g.Wait()
	if stopErr := pb.stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if err == nil {
		err = pb.pump.Err()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if p.stats {
		for component, counters := range metric.GetAll() {
			fmt.Fprintf(out, "%s\n", component)
			for name, value := range counters {
				fmt.Fprintf(out, "\t%s: %s\n", name, value)
			}
		}
	}
	return err
}
