package generation

import (
	"fmt"
	"strings"

	"github.com/nikhilbhutani/promptcraft/internal/models"
)

const structuredShape = `{
  "title": "short descriptive title",
  "description": "one or two sentences on what the prompt does",
  "prompt": {
    "role": "who the model should act as",
    "context": "background the model needs",
    "instructions": "step by step instructions",
    "rules": "constraints and things to avoid",
    "output_format": "exact shape of the expected answer"
  }
}`

const generateSystem = `You are an expert prompt engineer. You turn a user's goal into a production-ready structured prompt.

Reply with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:
` + structuredShape + `

All five prompt fields are required and must be plain strings. Escape newlines inside strings as \n.`

const improveSystem = `You are an expert prompt engineer. You rewrite an existing prompt according to the user's improvement request while keeping everything that already works.

Reply with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:
` + structuredShape + `

All five prompt fields are required and must be plain strings. Escape newlines inside strings as \n.`

const optimizeSystem = `You are an expert prompt engineer. You optimize prompts for clarity, precision, token efficiency and reliable output on the target model.

Reply with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:
{
  "title": "short descriptive title",
  "description": "one or two sentences on what the prompt does",
  "prompt": {
    "role": "...",
    "context": "...",
    "instructions": "...",
    "rules": "...",
    "output_format": "..."
  },
  "improvements": ["each concrete change you made, one per item"]
}

All five prompt fields are required and must be plain strings. Escape newlines inside strings as \n.`

const chainSystem = `You are an expert prompt engineer who designs multi-step prompt chains. Break the user's goal into a sequence of 2 to 4 prompts where each step builds on the previous one.

Reference earlier results inside a step's prompt with the exact token [OUTPUT FROM STEP N], where N is the id of the earlier step.

Reply with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:
{
  "title": "chain title",
  "description": "what the chain accomplishes",
  "steps": [
    {
      "id": 1,
      "title": "step title",
      "description": "what this step does",
      "prompt": "the full prompt for this step",
      "expectedOutput": "what this step should produce",
      "connectsTo": [2],
      "estimatedTime": "1-2 minutes",
      "estimatedTokens": {"input": 300, "output": 500}
    }
  ],
  "metadata": {
    "totalSteps": 2,
    "estimatedTotalTime": "3-5 minutes",
    "estimatedTotalTokens": {"input": 800, "output": 1200},
    "complexity": "low | medium | high"
  }
}

The chain MUST contain at least 2 and at most 4 steps with ids starting at 1.`

func generateUser(req GenerateRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\nTarget model: %s\n", req.Goal, targetOrDefault(req.TargetModel))
	if names := variableNames(req.Variables); len(names) > 0 {
		sb.WriteString("\nThe prompt must use these variables verbatim as {{name}} placeholders:\n")
		for _, n := range names {
			fmt.Fprintf(&sb, "- {{%s}}\n", n)
		}
	}
	return sb.String()
}

func improveUser(req ImproveRequest) string {
	return fmt.Sprintf("Target model: %s\n\nCurrent prompt:\n%s\n\nImprovement request:\n%s",
		targetOrDefault(req.TargetModel), req.Prompt.String(), req.ImprovementRequest)
}

func optimizeUser(req OptimizeRequest) string {
	return fmt.Sprintf("Target model: %s\n\nPrompt to optimize:\n%s",
		targetOrDefault(req.TargetModel), req.Prompt.String())
}

func chainUser(req ChainRequest) string {
	return fmt.Sprintf("Goal: %s\nTarget model: %s", req.Goal, targetOrDefault(req.TargetModel))
}

func targetOrDefault(model string) string {
	if strings.TrimSpace(model) == "" {
		return "any general-purpose chat model"
	}
	return model
}

func variableNames(vars []models.Variable) []string {
	seen := make(map[string]bool, len(vars))
	var names []string
	for _, v := range vars {
		n := strings.TrimSpace(v.Name)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}
