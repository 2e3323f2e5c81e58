package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fiatjaf.com/nostr"
)

// Arg describes one positional command argument.
type Arg struct {
	Name     string
	Optional bool
}

// CommandFunc handles a command sent by a contact. args holds the positional
// arguments after the command name, already checked against Command.Args.
type CommandFunc func(ctx context.Context, from nostr.PubKey, args []string) error

// Command is one entry of the registry.
type Command struct {
	Name        string
	Order       int
	Args        []Arg
	Description string
	Handler     CommandFunc

	seq int
}

// Usage renders the help line for the command.
func (c Command) Usage() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, a := range c.Args {
		if a.Optional {
			fmt.Fprintf(&b, " [%s]", a.Name)
		} else {
			fmt.Fprintf(&b, " <%s>", a.Name)
		}
	}
	b.WriteString(": ")
	b.WriteString(c.Description)
	return b.String()
}

// checkArgs verifies the arity of args against the declared arguments.
func (c Command) checkArgs(args []string) error {
	required := 0
	for _, a := range c.Args {
		if !a.Optional {
			required++
		}
	}
	if len(args) < required {
		return fmt.Errorf("%w: %s needs at least %d argument(s), got %d", ErrBadArgument, c.Name, required, len(args))
	}
	if len(args) > len(c.Args) {
		return fmt.Errorf("%w: %s takes at most %d argument(s), got %d", ErrBadArgument, c.Name, len(c.Args), len(args))
	}
	return nil
}

// CommandRegistry maps command names to their handlers and help metadata.
type CommandRegistry struct {
	commands map[string]Command
}

func newCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds a command. Registering the same name twice is a programming
// error and panics.
func (r *CommandRegistry) Register(cmd Command) {
	if cmd.Name == "" || cmd.Handler == nil {
		panic("registry: command needs a name and a handler")
	}
	if _, dup := r.commands[cmd.Name]; dup {
		panic("registry: duplicate command " + cmd.Name)
	}
	cmd.seq = len(r.commands)
	r.commands[cmd.Name] = cmd
}

// Resolve looks a command up by its exact (case-sensitive) name.
func (r *CommandRegistry) Resolve(name string) (Command, error) {
	cmd, ok := r.commands[name]
	if !ok {
		return Command{}, fmt.Errorf("command %q: %w", name, ErrNotFound)
	}
	return cmd, nil
}

// Sorted returns the commands by ascending order, ties by registration order.
func (r *CommandRegistry) Sorted() []Command {
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].Order != cmds[j].Order {
			return cmds[i].Order < cmds[j].Order
		}
		return cmds[i].seq < cmds[j].seq
	})
	return cmds
}

// RenderHelp builds the usage listing sent in reply to "help".
func (r *CommandRegistry) RenderHelp() string {
	var b strings.Builder
	b.WriteString("Usage:\n")
	for _, c := range r.Sorted() {
		b.WriteString("   ")
		b.WriteString(c.Usage())
		b.WriteString("\n")
	}
	return b.String()
}
