package main

import (
	"fmt"
	"os"

	"github.com/cirocosta/rootstrap/command"
	"github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(&command.Rootstrap, flags.HelpFlag|flags.PassDoubleDash)
	parser.NamespaceDelimiter = "-"

	parser.CommandHandler = func(cmd flags.Commander, args []string) (err error) {
		command.Logger, err = command.NewLogger(command.Rootstrap.LogLevel)
		if err != nil {
			return
		}

		err = cmd.Execute(args)
		if err != nil {
			command.Logger.Error("execute", err)
		}

		return
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
