// Package command is the server's administrative command surface: a registry
// of named commands, grouped into plugins, dispatched with a privilege check.
package command

import (
	"context"
	"encoding/json"
	"fmt"

	"pitrdb/pkg/dberrors"
)

// Action is a privilege action a principal may hold.
type Action string

const (
	ActionRecoverToPoint     Action = "recoverToPoint"
	ActionReplSetStateChange Action = "replSetStateChange"
	ActionReplSetGetStatus   Action = "replSetGetStatus"
	ActionFind               Action = "find"
	ActionInsert             Action = "insert"
	ActionRemove             Action = "remove"
	ActionPluginManage       Action = "pluginManage"
	ActionListCommands       Action = "listCommands"
)

// ResourceServer is the cluster wide resource administrative commands act on.
const ResourceServer = "server"

// Privilege is a set of actions on a resource.
type Privilege struct {
	Resource string   `json:"resource"`
	Actions  []Action `json:"actions"`
}

// ServerPrivilege is a shorthand for actions on ResourceServer.
func ServerPrivilege(actions ...Action) Privilege {
	return Privilege{Resource: ResourceServer, Actions: actions}
}

// Invocation is a parsed command ready to run.
type Invocation interface {
	Validate() error
	Execute(ctx context.Context) (any, error)
}

// ParseFunc turns a request body into an Invocation.
type ParseFunc func(body json.RawMessage) (Invocation, error)

// Command is a named capability: its help text, the privileges a caller must
// hold and how to parse a request into an Invocation.
type Command struct {
	Name       string
	Help       string
	Privileges []Privilege
	Parse      ParseFunc
}

func (c Command) RequiredPrivileges() []Privilege {
	return c.Privileges
}

func (c Command) validate() error {
	if c.Name == "" {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "command without name")
	}
	if c.Parse == nil {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "command %q without parser", c.Name)
	}
	return nil
}

// DecodeBody unmarshals a JSON command body into v. An empty body leaves v as is.
func DecodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode body: %v", dberrors.ErrInvalidArgument, err)
	}
	return nil
}

// Plugin is a named, versioned set of commands loaded and unloaded together.
type Plugin struct {
	Name     string
	Version  string
	Commands []Command
}

// Invoke adapts a plain function into an Invocation without validation.
type Invoke func(ctx context.Context) (any, error)

func (f Invoke) Validate() error { return nil }

func (f Invoke) Execute(ctx context.Context) (any, error) { return f(ctx) }
