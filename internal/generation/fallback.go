package generation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/promptcraft/internal/llmjson"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/pkg/tokenizer"
)

const (
	demoNotice     = "Demo mode: add an OpenAI or Anthropic API key in Settings to generate with a live model."
	quotaNotice    = "Your API provider reported insufficient quota. Check your plan and billing details at the provider, or use a different API key, then try again."
	fallbackNotice = "The model could not be reached, so a starter template was returned. Edit it or try again shortly."
	parseNotice    = "The model response could not be parsed as JSON; its text was mapped onto the prompt fields."
)

func noticeFor(src Source) string {
	switch src {
	case SourceDemo:
		return demoNotice
	case SourceQuota:
		return quotaNotice
	case SourceFallback:
		return fallbackNotice
	case SourceHeuristic:
		return parseNotice
	}
	return ""
}

func titleFrom(goal string) string {
	goal = strings.Join(strings.Fields(goal), " ")
	if goal == "" {
		return "Untitled prompt"
	}
	const maxLen = 60
	if r := []rune(goal); len(r) > maxLen {
		goal = strings.TrimSpace(string(r[:maxLen])) + "..."
	}
	r := []rune(goal)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func templatePrompt(goal string, vars []models.Variable, src Source) *PromptResult {
	goal = strings.TrimSpace(goal)

	context := fmt.Sprintf("The user wants help with the following goal: %s", goal)
	if names := variableNames(vars); len(names) > 0 {
		refs := make([]string, len(names))
		for i, n := range names {
			refs[i] = fmt.Sprintf("%s: {{%s}}", n, n)
		}
		context += "\n\nInputs:\n" + strings.Join(refs, "\n")
	}

	return &PromptResult{
		Envelope: llmjson.Envelope{
			Title:       titleFrom(goal),
			Description: fmt.Sprintf("A structured prompt for: %s", goal),
			Prompt: models.StructuredPrompt{
				Role:    "You are a knowledgeable, detail-oriented assistant with deep expertise in the subject of the task.",
				Context: context,
				Instructions: "1. Restate the goal in one sentence to confirm understanding.\n" +
					"2. Identify the key requirements and any missing information.\n" +
					"3. Work through the task step by step.\n" +
					"4. Review the result against the requirements before answering.",
				Rules: "- Be accurate and specific; do not invent facts.\n" +
					"- Ask for clarification when a requirement is ambiguous.\n" +
					"- Keep the answer focused on the goal.",
				OutputFormat: "A short summary followed by the complete answer in clearly labeled sections.",
			},
		},
		Source: src,
		Notice: noticeFor(src),
	}
}

// bodyPrompt maps a stored prompt of either form onto the five fields.
func bodyPrompt(b models.PromptBody) models.StructuredPrompt {
	if b.Structured != nil {
		return llmjson.NormalizePrompt(*b.Structured)
	}
	return llmjson.NormalizePrompt(models.StructuredPrompt{Instructions: strings.TrimSpace(b.Text)})
}

func templateImprove(req ImproveRequest, src Source) *PromptResult {
	p := bodyPrompt(req.Prompt)
	p.Instructions = strings.TrimRight(p.Instructions, "\n") +
		"\n\nAdditional requirement: " + strings.TrimSpace(req.ImprovementRequest)

	return &PromptResult{
		Envelope: llmjson.Envelope{
			Title:       "Improved prompt",
			Description: fmt.Sprintf("The original prompt extended with: %s", strings.TrimSpace(req.ImprovementRequest)),
			Prompt:      p,
		},
		Source: src,
		Notice: noticeFor(src),
	}
}

func templateOptimize(req OptimizeRequest, src Source) *PromptResult {
	return &PromptResult{
		Envelope: llmjson.Envelope{
			Title:       "Optimized prompt",
			Description: "The original prompt in structured form with optimization suggestions.",
			Prompt:      bodyPrompt(req.Prompt),
			Improvements: []string{
				"Make the role specific about expertise, audience and tone.",
				"Move background facts into the context field and keep instructions imperative.",
				"State hard constraints as a short bulleted list of rules.",
				"Describe the exact output format, including length limits.",
				"Remove repeated or filler wording to save tokens.",
			},
		},
		Source: src,
		Notice: noticeFor(src),
	}
}

var sectionHeader = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?(role|context|instructions|rules|output[ _]format)(?:\*\*)?[ \t]*(?::|\r?\n)(?:\*\*)?[ \t]*`)

// heuristicPrompt salvages a response that is not JSON. Labeled sections
// ("Role:", "## Rules") fill the matching fields; unlabeled text becomes the
// instructions. Title and description come from base.
func heuristicPrompt(raw string, base *PromptResult) *PromptResult {
	text := strings.TrimSpace(raw)
	fields := map[string]string{}

	locs := sectionHeader.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		name := strings.ReplaceAll(strings.ToLower(text[loc[2]:loc[3]]), " ", "_")
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if v := strings.TrimSpace(text[loc[1]:end]); v != "" {
			fields[name] = v
		}
	}
	if len(fields) == 0 && text != "" {
		fields["instructions"] = text
	}

	base.Prompt = llmjson.NormalizePrompt(models.StructuredPrompt{
		Role:         fields["role"],
		Context:      fields["context"],
		Instructions: fields["instructions"],
		Rules:        fields["rules"],
		OutputFormat: fields["output_format"],
	})
	return base
}

func templateChain(goal, targetModel string, src Source) *ChainResult {
	goal = strings.TrimSpace(goal)
	steps := []models.ChainStep{
		{
			ID:          1,
			Title:       "Research and outline",
			Description: "Collect the facts, constraints and open questions behind the goal.",
			Prompt: fmt.Sprintf("You are a meticulous researcher. For the goal below, list the key facts, requirements, "+
				"constraints and open questions, then propose an outline for the final deliverable.\n\nGoal: %s", goal),
			ExpectedOutput: "A bulleted list of facts and requirements plus a proposed outline.",
			ConnectsTo:     []int{2},
			EstimatedTime:  "1-2 minutes",
		},
		{
			ID:          2,
			Title:       "Draft",
			Description: "Write a complete first draft that follows the outline.",
			Prompt: fmt.Sprintf("You are an expert writer. Using the research and outline below, write a complete first "+
				"draft that achieves the goal.\n\nGoal: %s\n\nResearch and outline:\n[OUTPUT FROM STEP 1]", goal),
			ExpectedOutput: "A complete first draft.",
			ConnectsTo:     []int{3},
			EstimatedTime:  "2-3 minutes",
		},
		{
			ID:          3,
			Title:       "Review and refine",
			Description: "Check the draft against the requirements and produce the final version.",
			Prompt: "You are a critical editor. Review the draft below for accuracy, completeness and clarity, " +
				"fix every problem you find and return only the final version.\n\nDraft:\n[OUTPUT FROM STEP 2]",
			ExpectedOutput: "The polished final deliverable.",
			EstimatedTime:  "1-2 minutes",
		},
	}

	chain, _ := normalizeChain(models.Chain{
		Title:       titleFrom(goal),
		Description: fmt.Sprintf("A three-step research, draft and refine chain for: %s", goal),
		Steps:       steps,
	}, targetModel)

	return &ChainResult{Chain: chain, Source: src, Notice: noticeFor(src)}
}

func demoTestResult(res *models.TestResult, input string) *models.TestResult {
	res.Success = true
	res.Response = "This is a demo response. Add an API key for " + res.Model +
		"'s provider in Settings to see real output for this prompt."
	if strings.TrimSpace(input) != "" {
		res.Response += "\n\nTest input received: " + strings.TrimSpace(input)
	}
	in := tokenizer.CountTokens(res.Prompt) + tokenizer.CountTokens(input)
	out := tokenizer.CountTokens(res.Response)
	res.Usage = models.TestUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	res.Error = ""
	return res
}
