package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pitrdb/pkg/dberrors"
)

var ErrAlreadyRegistered = errors.New("command: already registered")

// Registry holds the commands currently available for dispatch and the
// plugins that contributed them.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]entry
	plugins  map[string]Plugin
}

type entry struct {
	cmd    Command
	plugin string
}

// Info describes a registered command.
type Info struct {
	Name       string      `json:"name"`
	Help       string      `json:"help,omitempty"`
	Plugin     string      `json:"plugin,omitempty"`
	Privileges []Privilege `json:"privileges"`
}

// PluginInfo describes a loaded plugin.
type PluginInfo struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Commands []string `json:"commands"`
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]entry),
		plugins:  make(map[string]Plugin),
	}
}

// Add registers a standalone command.
func (r *Registry) Add(cmd Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[cmd.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, cmd.Name)
	}
	r.commands[cmd.Name] = entry{cmd: cmd}
	return nil
}

// Remove unregisters a command by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[name]; !ok {
		return dberrors.Newf(dberrors.ErrNotFound, "command %q", name)
	}
	delete(r.commands, name)
	return nil
}

func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[name]
	return e.cmd, ok
}

// List returns the registered commands ordered by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.commands))
	for _, e := range r.commands {
		out = append(out, Info{
			Name:       e.cmd.Name,
			Help:       e.cmd.Help,
			Plugin:     e.plugin,
			Privileges: e.cmd.Privileges,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadPlugin registers all commands of p, or none of them if any name is taken.
func (r *Registry) LoadPlugin(p Plugin) error {
	if p.Name == "" {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "plugin without name")
	}
	for _, cmd := range p.Commands {
		if err := cmd.validate(); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("%w: plugin %s", ErrAlreadyRegistered, p.Name)
	}
	seen := make(map[string]struct{}, len(p.Commands))
	for _, cmd := range p.Commands {
		if _, ok := r.commands[cmd.Name]; ok {
			return fmt.Errorf("%w: %s (plugin %s)", ErrAlreadyRegistered, cmd.Name, p.Name)
		}
		if _, ok := seen[cmd.Name]; ok {
			return fmt.Errorf("%w: %s twice in plugin %s", ErrAlreadyRegistered, cmd.Name, p.Name)
		}
		seen[cmd.Name] = struct{}{}
	}

	for _, cmd := range p.Commands {
		r.commands[cmd.Name] = entry{cmd: cmd, plugin: p.Name}
	}
	r.plugins[p.Name] = p
	return nil
}

// UnloadPlugin removes a plugin and every command it registered.
func (r *Registry) UnloadPlugin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[name]
	if !ok {
		return dberrors.Newf(dberrors.ErrNotFound, "plugin %q is not loaded", name)
	}
	for _, cmd := range p.Commands {
		if e, ok := r.commands[cmd.Name]; ok && e.plugin == name {
			delete(r.commands, cmd.Name)
		}
	}
	delete(r.plugins, name)
	return nil
}

// Plugins lists loaded plugins ordered by name.
func (r *Registry) Plugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginInfo, 0, len(r.plugins))
	for _, p := range r.plugins {
		names := make([]string, 0, len(p.Commands))
		for _, c := range p.Commands {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		out = append(out, PluginInfo{Name: p.Name, Version: p.Version, Commands: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
