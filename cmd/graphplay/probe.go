package main

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"pipelined.dev/graph"
	"pipelined.dev/graph/reader"
)

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe FILE",
		Short: "Print media types offered for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(cmd.OutOrStdout(), args[0])
		},
	}
}

func probe(out io.Writer, path string) error {
	s, err := openStore(path)
	if err != nil {
		return err
	}
	r, err := reader.New("reader", s)
	if err != nil {
		s.Close()
		return err
	}
	defer r.Close()

	total, _, err := r.Length()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d bytes\n", path, total)
	reg := graph.DefaultRegistry()
	for _, mt := range r.Output().MediaTypes() {
		fmt.Fprintf(out, "%v\n", mt)
		if w, err := mt.WaveFormat(); err == nil {
			if codec, ok := reg.Lookup(w.Tag); ok {
				fmt.Fprintf(out, "codec %s, duration %v\n", codec.Name, w.DurationOf(total))
			}
			spew.Fdump(out, w)
		}
	}
	return nil
}
