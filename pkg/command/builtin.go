package command

import (
	"context"
	"encoding/json"
	"sort"

	"pitrdb/pkg/dberrors"
)

// Catalog holds the plugins compiled into the binary that loadPlugin may load.
type Catalog map[string]Plugin

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type pluginArgs struct {
	Name string `json:"name"`
}

func (a pluginArgs) Validate() error {
	if a.Name == "" {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "name is required")
	}
	return nil
}

type pluginInvocation struct {
	pluginArgs
	run func(name string) (any, error)
}

func (p pluginInvocation) Execute(context.Context) (any, error) {
	return p.run(p.Name)
}

// Builtins returns the commands every node carries: listCommands, loadPlugin
// and unloadPlugin.
func Builtins(reg *Registry, catalog Catalog) []Command {
	parsePlugin := func(run func(string) (any, error)) ParseFunc {
		return func(body json.RawMessage) (Invocation, error) {
			var args pluginArgs
			if err := DecodeBody(body, &args); err != nil {
				return nil, err
			}
			return pluginInvocation{pluginArgs: args, run: run}, nil
		}
	}

	return []Command{
		{
			Name:       "listCommands",
			Help:       "list registered commands and loaded plugins",
			Privileges: []Privilege{ServerPrivilege(ActionListCommands)},
			Parse: func(json.RawMessage) (Invocation, error) {
				return Invoke(func(context.Context) (any, error) {
					return map[string]any{
						"commands":  reg.List(),
						"plugins":   reg.Plugins(),
						"available": catalog.Names(),
					}, nil
				}), nil
			},
		},
		{
			Name:       "loadPlugin",
			Help:       "load a compiled-in plugin by name: {name}",
			Privileges: []Privilege{ServerPrivilege(ActionPluginManage)},
			Parse: parsePlugin(func(name string) (any, error) {
				p, ok := catalog[name]
				if !ok {
					return nil, dberrors.Newf(dberrors.ErrNotFound, "unknown plugin %q", name)
				}
				if err := reg.LoadPlugin(p); err != nil {
					return nil, dberrors.Wrap(dberrors.ErrPreconditionFailed, err, "load plugin")
				}
				return map[string]string{"loaded": p.Name, "version": p.Version}, nil
			}),
		},
		{
			Name:       "unloadPlugin",
			Help:       "unload a plugin and its commands: {name}",
			Privileges: []Privilege{ServerPrivilege(ActionPluginManage)},
			Parse: parsePlugin(func(name string) (any, error) {
				if err := reg.UnloadPlugin(name); err != nil {
					return nil, err
				}
				return map[string]string{"unloaded": name}, nil
			}),
		},
	}
}
