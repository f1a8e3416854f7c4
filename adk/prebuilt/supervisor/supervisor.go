package supervisor

import (
	"context"

	"github.com/graphrun/graphrun/adk"
)

type Config struct {
	Supervisor adk.Agent

	SubAgents []adk.Agent
}

func New(ctx context.Context, conf *Config) (adk.Agent, error) {
	subAgents := make([]adk.Agent, 0, len(conf.SubAgents))
	supervisorName := conf.Supervisor.Name(ctx)
	for _, subAgent := range conf.SubAgents {
		subAgents = append(subAgents, adk.AgentWithDeterministicTransferTo(ctx, &adk.DeterministicTransferConfig{
			Agent:        subAgent,
			ToAgentNames: []string{supervisorName},
		}))
	}

	return adk.SetSubAgents(ctx, conf.Supervisor, subAgents)
}
