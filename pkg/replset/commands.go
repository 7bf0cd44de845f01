package replset

import (
	"context"
	"encoding/json"

	"pitrdb/pkg/command"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/progress"
)

type iProgress interface {
	Snapshot() progress.Snapshot
}

// Status is the replSetGetStatus reply.
type Status struct {
	Self        string            `json:"self"`
	State       MemberState       `json:"state"`
	Maintenance int               `json:"maintenanceMode"`
	Progress    progress.Snapshot `json:"progress"`
}

type maintenanceArgs struct {
	On *bool `json:"on"`
}

type maintenanceInvocation struct {
	maintenanceArgs
	state *State
}

func (m maintenanceInvocation) Validate() error {
	if m.On == nil {
		return dberrors.Newf(dberrors.ErrInvalidArgument, "on is required")
	}
	return nil
}

func (m maintenanceInvocation) Execute(context.Context) (any, error) {
	if err := m.state.SetMaintenance(*m.On); err != nil {
		return nil, err
	}
	return map[string]any{
		"state":           m.state.Current(),
		"maintenanceMode": m.state.MaintenanceCount(),
	}, nil
}

// Commands returns replSetMaintenance and replSetGetStatus bound to state.
func Commands(self string, state *State, prog iProgress) []command.Command {
	return []command.Command{
		{
			Name:       "replSetMaintenance",
			Help:       "enter or leave maintenance mode: {on: bool}",
			Privileges: []command.Privilege{command.ServerPrivilege(command.ActionReplSetStateChange)},
			Parse: func(body json.RawMessage) (command.Invocation, error) {
				inv := maintenanceInvocation{state: state}
				if err := command.DecodeBody(body, &inv.maintenanceArgs); err != nil {
					return nil, err
				}
				return inv, nil
			},
		},
		{
			Name:       "replSetGetStatus",
			Help:       "report member state, maintenance mode and replication progress",
			Privileges: []command.Privilege{command.ServerPrivilege(command.ActionReplSetGetStatus)},
			Parse: func(json.RawMessage) (command.Invocation, error) {
				return command.Invoke(func(context.Context) (any, error) {
					return Status{
						Self:        self,
						State:       state.Current(),
						Maintenance: state.MaintenanceCount(),
						Progress:    prog.Snapshot(),
					}, nil
				}), nil
			},
		},
	}
}
