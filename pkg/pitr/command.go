package pitr

import (
	"context"
	"encoding/json"

	"pitrdb/pkg/command"
)

const (
	PluginName    = "pitr_plugin"
	PluginVersion = "0.0.1-pre-"
)

type recoverInvocation struct {
	req    Request
	target Target
	engine *Engine
}

func (r *recoverInvocation) Validate() error {
	t, err := ResolveTarget(r.req)
	if err != nil {
		return err
	}
	r.target = t
	return nil
}

func (r *recoverInvocation) Execute(ctx context.Context) (any, error) {
	return r.engine.Run(ctx, r.target)
}

// Command is recoverToPoint bound to engine. It blocks until the target is
// reached, the run fails or the caller goes away.
func Command(engine *Engine) command.Command {
	return command.Command{
		Name: "recoverToPoint",
		Help: "runs point-in-time recovery by syncing and applying oplog entries\n" +
			"and stopping at the specified operation (identified by ts or gtid).\n" +
			`Example: {"ts": "2024-01-02T15:04:05Z"} or {"gtid": "3:42"}` + "\n" +
			"On success replies with the run summary: run_id, target, applied (entries\n" +
			"applied by this run), last (last applied gtid) and attempts.",
		Privileges: []command.Privilege{command.ServerPrivilege(command.ActionRecoverToPoint)},
		Parse: func(body json.RawMessage) (command.Invocation, error) {
			inv := &recoverInvocation{engine: engine}
			if err := command.DecodeBody(body, &inv.req); err != nil {
				return nil, err
			}
			return inv, nil
		},
	}
}

// Plugin packages recoverToPoint for the command registry.
func Plugin(engine *Engine) command.Plugin {
	return command.Plugin{
		Name:     PluginName,
		Version:  PluginVersion,
		Commands: []command.Command{Command(engine)},
	}
}
