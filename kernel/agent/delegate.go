package agent

import (
	"context"
	"fmt"

	"github.com/chalkline/agentkit/kernel/tool"
)

type delegateArgs struct {
	Agent string `json:"agent" description:"name of the registered agent to run"`
	Task  string `json:"task" description:"task for the agent to perform"`
}

type delegateResult struct {
	Agent   string `json:"agent"`
	Result  string `json:"result"`
	Turns   int    `json:"turns"`
	Stopped string `json:"stopped"`
}

// DelegateTool exposes a registry's agents as a tool, so a session can
// hand a subtask to a named agent and get back its report. Failed runs
// surface as tool errors, which reach the model as error results.
func DelegateTool(reg *Registry) tool.Tool {
	return tool.MustFunc("delegate",
		"Run a task on a named agent and return its final answer.",
		func(ctx context.Context, args delegateArgs) (delegateResult, error) {
			a, err := reg.Get(args.Agent)
			if err != nil {
				return delegateResult{}, err
			}
			rep, err := a.RunReport(ctx, args.Task)
			if err != nil {
				return delegateResult{}, err
			}
			if rep.Stop.Err() {
				return delegateResult{}, fmt.Errorf("agent %q stopped: %s: %s", rep.Agent, rep.Stop, rep.Detail)
			}
			return delegateResult{
				Agent:   rep.Agent,
				Result:  rep.Result,
				Turns:   rep.Turns,
				Stopped: string(rep.Stop),
			}, nil
		})
}
