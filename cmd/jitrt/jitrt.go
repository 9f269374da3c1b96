package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dc0d/onexit"

	"github.com/jitrt/jitrt"
	"github.com/jitrt/jitrt/internal/logging"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "target":
		doTarget(flag.Args()[1:], stdOut, stdErr, exit)
	case "selftest":
		doSelftest(flag.Args()[1:], stdOut, stdErr, exit)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

func doTarget(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	spec := "host"
	if len(args) > 0 {
		spec = args[0]
	}
	t, err := jitrt.ParseTarget(spec)
	if err != nil {
		fmt.Fprintf(stdErr, "error parsing target: %v\n", err)
		exit(1)
	}
	fmt.Fprintln(stdOut, t)
	exit(0)
}

func doSelftest(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("selftest", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var configPath string
	flags.StringVar(&configPath, "config", "", "path to an HCL config file")

	var trace bool
	flags.BoolVar(&trace, "trace", false, "print the trace events of the pipeline")

	_ = flags.Parse(args)

	if help {
		printSelftestUsage(stdErr, flags)
		exit(0)
	}

	s := defaultSettings()
	if configPath != "" {
		if err := loadConfig(configPath, s); err != nil {
			fmt.Fprintf(stdErr, "error loading config: %v\n", err)
			exit(1)
		}
	}

	logger := logging.New(s.logLevel, s.logFormat, stdErr)
	rc := jitrt.NewRuntimeConfig().WithLogger(logger).WithPrintWriter(stdErr)
	if s.numThreads != nil {
		rc = rc.WithNumThreads(*s.numThreads)
	}
	if s.target != nil {
		rc = rc.WithTarget(*s.target)
	}

	shared := jitrt.NewSharedRuntime(rc)
	// Interrupts skip the release below.
	onexit.Register(func() { _ = shared.ReleaseAll(context.Background()) })

	ctx := logging.WithLogger(context.Background(), logger)
	err := runSelftest(ctx, shared, rc.Target(), s, trace, stdOut)
	if releaseErr := shared.ReleaseAll(ctx); err == nil {
		err = releaseErr
	}
	if err != nil {
		fmt.Fprintf(stdErr, "selftest failed: %v\n", err)
		exit(1)
	}
	exit(0)
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "jitrt CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  jitrt <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  target\tPrints a target, the host by default")
	fmt.Fprintln(stdErr, "  selftest\tRuns a pipeline against the shared runtime")
}

func printSelftestUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "jitrt CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  jitrt selftest <options>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
