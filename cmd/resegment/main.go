// Command resegment rewrites a fragmented CMAF track file into segments of
// a new target average duration.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tetsuo/cmaf"
)

func main() {
	input := flag.String("i", "", "input CMAF track file")
	duration := flag.Float64("d", cmaf.DefaultTargetDurationMs, "target average segment duration in milliseconds")
	output := flag.String("o", "", "output CMAF track file (omit to analyze without writing)")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s -i <input> [-d ms] [-o output] [-v]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatal().Err(err).Msg("reading input")
	}

	r := &cmaf.Resegmenter{TargetDurationMs: *duration, Log: log}
	out, err := r.Resegment(data)
	if err != nil {
		log.Fatal().Err(err).Str("file", *input).Msg("resegmenting")
	}

	if *output != "" {
		if err := os.WriteFile(*output, out, 0o644); err != nil {
			log.Fatal().Err(err).Msg("writing output")
		}
	}
}
