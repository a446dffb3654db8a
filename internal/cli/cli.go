package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandToggle  Command = "toggle"
	CommandListen  Command = "listen"
	CommandAsk     Command = "ask"
	CommandStatus  Command = "status"
	CommandQuit    Command = "quit"
	CommandModels  Command = "models"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandToggle:  {},
	CommandListen:  {},
	CommandAsk:     {},
	CommandStatus:  {},
	CommandQuit:    {},
	CommandModels:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Headless   bool
	ShowHelp   bool
	// Text is the prompt for ask, joined from the remaining arguments.
	Text string
}

// Parse reads global flags followed by a single command. Flags after the command
// are rejected; ask takes the rest of the line as its prompt.
func Parse(args []string) (Parsed, error) {
	var (
		parsed      Parsed
		showHelp    bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	flags.StringVar(&parsed.ConfigPath, "config", "", "settings file path")
	flags.BoolVar(&parsed.Headless, "headless", false, "run without the interactive console")
	flags.BoolVarP(&showHelp, "help", "h", false, "show help")
	flags.BoolVar(&showVersion, "version", false, "show version")

	if err := flags.Parse(args); err != nil {
		return Parsed{}, err
	}

	switch {
	case showHelp:
		parsed.Command, parsed.ShowHelp = CommandHelp, true
		return parsed, nil
	case showVersion:
		parsed.Command = CommandVersion
		return parsed, nil
	}

	rest := flags.Args()
	if len(rest) == 0 {
		parsed.Command = CommandRun
		return parsed, nil
	}

	cmd := Command(rest[0])
	if _, ok := validCommands[cmd]; !ok {
		return Parsed{}, fmt.Errorf("unknown command: %s", rest[0])
	}
	parsed.Command = cmd
	parsed.ShowHelp = cmd == CommandHelp

	if cmd == CommandAsk {
		parsed.Text = strings.TrimSpace(strings.Join(rest[1:], " "))
		if parsed.Text == "" {
			return Parsed{}, fmt.Errorf("%s requires prompt text", cmd)
		}
		return parsed, nil
	}
	if len(rest) > 1 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q", rest[0])
	}
	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--headless] [command]

Commands:
  run         Start the assistant (default)
  toggle      Show or hide the running assistant
  listen      Start or stop voice input in the running assistant
  ask TEXT    Send a chat prompt to the running assistant and print the reply
  status      Print current state
  quit        Stop the running assistant
  models      List the model catalog
  devices     List available input devices
  doctor      Run configuration and environment checks
  version     Print version information
  help        Show this help

Flags:
  --config PATH   Settings file path (default: $XDG_CONFIG_HOME/parley/settings.json)
  --headless      Run without the interactive console
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
