package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages available commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates a registry holding cmds.
func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{commands: make(map[string]Command)}
	for _, c := range cmds {
		r.Register(c)
	}
	return r
}

// Register adds a command, replacing any command with the same name.
func (r *Registry) Register(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[c.Name()] = c
}

// Unregister removes a command from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("/%s: %w", name, ErrUnknownCommand)
	}
	return c, nil
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Help renders one line per command.
func (r *Registry) Help() string {
	var sb strings.Builder
	for _, c := range r.List() {
		fmt.Fprintf(&sb, "/%s - %s\n", c.Name(), c.Description())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Dispatch runs the command named name.
func (r *Registry) Dispatch(ctx context.Context, name string, req Request) (string, error) {
	c, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return c.Execute(ctx, req)
}

// Continue hands a plain message to the first dialog with a question open
// for the sender. handled is false when no dialog took it.
func (r *Registry) Continue(ctx context.Context, req Request) (string, bool, error) {
	for _, c := range r.List() {
		d, ok := c.(Dialog)
		if !ok {
			continue
		}
		if reply, handled, err := d.Continue(ctx, req); handled {
			return reply, true, err
		}
	}
	return "", false, nil
}
