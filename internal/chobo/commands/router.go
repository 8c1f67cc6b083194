// Package commands parses and dispatches the host's slash commands
// ("/chobo export orders.xlsx") so they never reach the dialogue engine.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Command is a parsed command line.
type Command struct {
	Name    string
	Args    []string
	Flags   map[string]string
	RawText string
}

var (
	// ErrNotACommand is returned by Parse when the line lacks the prefix.
	// It is the normal case for dialogue input.
	ErrNotACommand = errors.New("not a command (missing prefix)")
	// ErrUnknownCommand is returned by Route for unregistered names.
	ErrUnknownCommand = errors.New("unknown command")
	ErrEmptyCommand   = errors.New("empty command")
)

// Handler runs one command and returns the text to show.
type Handler func(ctx context.Context, cmd *Command) (string, error)

type entry struct {
	handler Handler
	usage   string
}

// Router maps command names to handlers.
type Router struct {
	prefix   string
	handlers map[string]entry
}

// NewRouter creates a Router for lines starting with prefix.
func NewRouter(prefix string) *Router {
	return &Router{prefix: prefix, handlers: make(map[string]entry)}
}

// Register adds handler under name. usage is shown by Help.
func (r *Router) Register(name, usage string, handler Handler) {
	r.handlers[strings.ToLower(name)] = entry{handler: handler, usage: usage}
}

// Parse splits a command line into name, positional arguments and --flags.
// A flag followed by a non-flag token takes it as its value; otherwise it is
// "true".
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	rest, ok := strings.CutPrefix(text, r.prefix)
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return nil, ErrNotACommand
	}
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: strings.TrimSpace(rest),
	}
	for i := 1; i < len(parts); i++ {
		p := parts[i]
		name, isFlag := strings.CutPrefix(p, "--")
		if !isFlag {
			cmd.Args = append(cmd.Args, p)
			continue
		}
		if k, v, hasValue := strings.Cut(name, "="); hasValue {
			cmd.Flags[k] = v
			continue
		}
		if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
			cmd.Flags[name] = parts[i+1]
			i++
		} else {
			cmd.Flags[name] = "true"
		}
	}
	return cmd, nil
}

// Route parses text and runs the matching handler.
func (r *Router) Route(ctx context.Context, text string) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	e, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	return e.handler(ctx, cmd)
}

// Help lists the registered commands with their usage lines, sorted.
func (r *Router) Help() string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:")
	for _, n := range names {
		fmt.Fprintf(&b, "\n  %s %s", r.prefix, r.handlers[n].usage)
	}
	return b.String()
}

// GetFlag returns a flag value or def.
func (c *Command) GetFlag(name, def string) string {
	if v, ok := c.Flags[name]; ok {
		return v
	}
	return def
}

// GetArg returns the positional argument at index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
