package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"toolrun/internal/tools"
)

// runREPL drives the dispatcher interactively: one "<tool> <payload>" line
// per call. Useful for poking at the runtime without an agent loop.
func runREPL(registry *tools.Registry, logger zerolog.Logger) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem(":tools"),
		readline.PcItem(":quit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "tool> ",
		AutoComplete: completer,
	})
	if err != nil {
		logger.Error().Err(err).Msg("cannot initialize readline")
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return
		case line == ":tools":
			fmt.Println(strings.Join(tools.ToolNames(), "\n"))
			continue
		}

		name, payload := line, ""
		if idx := strings.IndexAny(line, " \t"); idx != -1 {
			name, payload = line[:idx], strings.TrimSpace(line[idx+1:])
		}
		fmt.Print(registry.Dispatch(context.Background(), name, payload))
	}
}
