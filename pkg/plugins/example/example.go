// Package example is a minimal plugin: it reports how many live keys a
// namespace holds.
package example

import (
	"context"
	"encoding/json"

	"pitrdb/pkg/command"
	"pitrdb/pkg/dberrors"
)

const (
	PluginName    = "exampleplugin"
	PluginVersion = "0.1.0"
)

type iCounter interface {
	Count(ns string) int
}

// Reply is the pluginExample result.
type Reply struct {
	NS   string `json:"ns"`
	Keys int    `json:"keys"`
}

type invocation struct {
	NS    string `json:"ns"`
	store iCounter
}

func (i *invocation) Validate() error {
	if i.NS == "" {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "ns is required")
	}
	return nil
}

func (i *invocation) Execute(context.Context) (any, error) {
	n := i.store.Count(i.NS)
	if n == 0 {
		return nil, dberrors.Newf(dberrors.ErrNotFound, "ns %q not found", i.NS)
	}
	return Reply{NS: i.NS, Keys: n}, nil
}

func Plugin(store iCounter) command.Plugin {
	return command.Plugin{
		Name:    PluginName,
		Version: PluginVersion,
		Commands: []command.Command{{
			Name:       "pluginExample",
			Help:       "reports the number of keys in a namespace: {ns}",
			Privileges: []command.Privilege{command.ServerPrivilege(command.ActionFind)},
			Parse: func(body json.RawMessage) (command.Invocation, error) {
				inv := &invocation{store: store}
				if err := command.DecodeBody(body, inv); err != nil {
					return nil, err
				}
				return inv, nil
			},
		}},
	}
}
