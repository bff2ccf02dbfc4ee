package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ContentKind string

const (
	ContentSimple ContentKind = "simple"
	ContentChain  ContentKind = "chain"
)

// Content is the tagged union stored in prompts.content. Exactly one of
// Simple or Chain is set, matching Kind.
type Content struct {
	Kind   ContentKind
	Simple *SimpleContent
	Chain  *ChainContent
}

type SimpleContent struct {
	Prompt    PromptBody `json:"prompt"`
	Variables []Variable `json:"variables"`
}

type ChainContent struct {
	TargetModel string `json:"targetModel"`
	Chain       Chain  `json:"chain"`
}

func NewSimpleContent(body PromptBody, vars []Variable) Content {
	if vars == nil {
		vars = []Variable{}
	}
	return Content{Kind: ContentSimple, Simple: &SimpleContent{Prompt: body, Variables: vars}}
}

func NewChainContent(targetModel string, chain Chain) Content {
	return Content{Kind: ContentChain, Chain: &ChainContent{TargetModel: targetModel, Chain: chain}}
}

func (c Content) Validate() error {
	switch c.Kind {
	case ContentSimple:
		if c.Simple == nil || c.Simple.Prompt.IsZero() {
			return errors.New("simple content requires a prompt")
		}
	case ContentChain:
		if c.Chain == nil || len(c.Chain.Chain.Steps) == 0 {
			return errors.New("chain content requires steps")
		}
	default:
		return fmt.Errorf("unknown content type %q", c.Kind)
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentChain:
		if c.Chain == nil {
			return nil, errors.New("chain content without payload")
		}
		return json.Marshal(struct {
			Type ContentKind `json:"type"`
			*ChainContent
		}{ContentChain, c.Chain})
	case ContentSimple:
		if c.Simple == nil {
			return nil, errors.New("simple content without payload")
		}
		return json.Marshal(struct {
			Type ContentKind `json:"type"`
			*SimpleContent
		}{ContentSimple, c.Simple})
	}
	return nil, fmt.Errorf("unknown content type %q", c.Kind)
}

// UnmarshalJSON dispatches on "type"; rows written before the tag existed
// have no type and are simple prompts.
func (c *Content) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ContentKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}

	switch head.Type {
	case ContentChain:
		var cc ChainContent
		if err := json.Unmarshal(data, &cc); err != nil {
			return fmt.Errorf("decode chain content: %w", err)
		}
		*c = Content{Kind: ContentChain, Chain: &cc}
	case ContentSimple, "":
		var sc SimpleContent
		if err := json.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("decode simple content: %w", err)
		}
		if sc.Variables == nil {
			sc.Variables = []Variable{}
		}
		*c = Content{Kind: ContentSimple, Simple: &sc}
	default:
		return fmt.Errorf("unknown content type %q", head.Type)
	}
	return nil
}
