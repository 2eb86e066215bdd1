package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"larkspur.is/curfew/cmd"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		fs.StringVar(configFile, "c", cmd.DefaultConfigFile, "Configuration file (short)")
		debug := fs.Bool("debug", false, "Enable debug logging")
		fs.Parse(os.Args[2:])
		err = cmd.RunDaemon(*configFile, *debug)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		fs.Parse(os.Args[2:])
		err = cmd.RunStatus(*configFile, fs.Arg(0))

	case "allow":
		fs := flag.NewFlagSet("allow", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		dur := fs.Duration("for", 0, "Allow temporarily, reverting after this duration")
		fs.Parse(os.Args[2:])
		err = runWithRule(fs.Arg(0), "allow", func(id string) error {
			return cmd.RunAllow(*configFile, id, *dur)
		})

	case "block":
		fs := flag.NewFlagSet("block", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		fs.Parse(os.Args[2:])
		err = runWithRule(fs.Arg(0), "block", func(id string) error {
			return cmd.RunBlock(*configFile, id)
		})

	case "defer":
		fs := flag.NewFlagSet("defer", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		dur := fs.Duration("for", time.Hour, "How long to postpone the blocking window")
		fs.Parse(os.Args[2:])
		err = runWithRule(fs.Arg(0), "defer", func(id string) error {
			return cmd.RunDefer(*configFile, id, *dur)
		})

	case "cancel":
		fs := flag.NewFlagSet("cancel", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		fs.Parse(os.Args[2:])
		err = runWithRule(fs.Arg(0), "cancel", func(id string) error {
			return cmd.RunCancel(*configFile, id)
		})

	case "refresh":
		fs := flag.NewFlagSet("refresh", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		fs.Parse(os.Args[2:])
		err = cmd.RunRefresh(*configFile)

	case "rules":
		fs := flag.NewFlagSet("rules", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		selectID := fs.String("select", "", "Put a rule under management")
		unselectID := fs.String("unselect", "", "Remove a rule from management")
		fs.Parse(os.Args[2:])
		err = cmd.RunRules(*configFile, *selectID, *unselectID)

	case "apikey":
		fs := flag.NewFlagSet("apikey", flag.ExitOnError)
		configFile := fs.String("config", cmd.DefaultConfigFile, "Configuration file")
		set := fs.Bool("set", false, "Store a new API key (read from stdin)")
		clear := fs.Bool("clear", false, "Remove the stored API key")
		fs.Parse(os.Args[2:])
		err = cmd.RunAPIKey(*configFile, *set, *clear)

	case "help", "-h", "--help":
		printUsage()
		return

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithRule(ruleID, command string, fn func(string) error) error {
	if ruleID == "" {
		return fmt.Errorf("usage: curfew %s [flags] <rule-id>", command)
	}
	return fn(ruleID)
}

func printUsage() {
	fmt.Print(`curfew - downtime rule controller

Usage:
  curfew run      [-config FILE] [-debug]        Run the controller daemon
  curfew status   [-config FILE] [RULE-ID]       Show rule state
  curfew allow    [-for DURATION] RULE-ID        Stop blocking (temporarily with -for)
  curfew block    RULE-ID                        Start blocking now
  curfew defer    [-for DURATION] RULE-ID        Postpone tonight's blocking window
  curfew cancel   RULE-ID                        End a temporary exception early
  curfew refresh  [-config FILE]                 Sync with the gateway now
  curfew rules    [-select ID] [-unselect ID]    List or manage tracked rules
  curfew apikey   [-set] [-clear]                Manage the gateway API key
`)
}
