// Command observagent runs the research, analysis and writing pipeline
// against a query and inspects the traces it leaves behind.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config string `short:"f" long:"config" description:"config YAML path"`
	Env    string `long:"env-file" description:"dotenv file loaded before the environment is read" default:".env"`

	Run   RunCmd   `command:"run" description:"Run the pipeline on a query"`
	Trace TraceCmd `command:"trace" description:"Inspect saved traces"`
}

// TraceCmd groups the trace sub-commands.
type TraceCmd struct {
	Show TraceShowCmd `command:"show" description:"Print one trace as JSON"`
	List TraceListCmd `command:"list" description:"List saved traces"`
}

var opts Options

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if err := loadDotenv(opts.Env); err != nil {
			return err
		}
		return cmd.Execute(args)
	}
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// loadDotenv loads path into the process environment. Variables already
// set win. A missing default file is not an error.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
