package registry

import (
	"github.com/mstairs/flowline/pkg/actions/control"
	http_request_action "github.com/mstairs/flowline/pkg/actions/http_request"
	log_action "github.com/mstairs/flowline/pkg/actions/log"
	transform_action "github.com/mstairs/flowline/pkg/actions/transform"
	"github.com/mstairs/flowline/pkg/persistence"
)

// RegisterDefaults wires the built-in actions. The control actions are
// first-class registry entries alongside the side-effecting ones; only
// control.set_variable needs storage access.
func RegisterDefaults(r *Registry, variables persistence.VariableRepository) {
	r.Register(log_action.NewLogActionFactory())
	r.Register(http_request_action.NewHTTPRequestActionFactory())
	r.Register(transform_action.NewTransformActionFactory())
	r.Register(control.NewDelayActionFactory())
	r.Register(control.NewConditionActionFactory())
	r.Register(control.NewSetVariableActionFactory(variables))
}
