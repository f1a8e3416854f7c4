
package adk

import (
	"context"
	"fmt"
	"strings"
)

const (
	TransferToAgentInstruction = `Available other agents: %s

Decision rule:
- If you're best suited for the question according to your description: ANSWER
- If another agent is better according its description: CALL '%s' function with their agent name

When transferring: OUTPUT ONLY THE FUNCTION CALL`
)

func genTransferToAgentInstruction(ctx context.Context, agents []Agent) string {
	var sb strings.Builder
	for _, agent := range agents {
		sb.WriteString(fmt.Sprintf("\n- Agent name: %s\n  Agent description: %s",
			agent.Name(ctx), agent.Description(ctx)))
	}

	return fmt.Sprintf(TransferToAgentInstruction, sb.String(), TransferToAgentToolName)
}
