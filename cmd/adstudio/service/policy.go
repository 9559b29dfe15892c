package service

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/adstudio/common/logger"
	"github.com/lyzr/adstudio/common/models"
)

// PolicyRule is a named CEL expression evaluated over generated content.
// A rule that evaluates to true flags the record for the reviewer.
type PolicyRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// DefaultPolicyRules are applied when no rules are configured
func DefaultPolicyRules() []PolicyRule {
	return []PolicyRule{
		{
			Name:       "unsubstantiated_claim",
			Expression: `content.title.contains("#1") || content.description.contains("guaranteed") || content.description.contains("best in the world")`,
		},
		{
			Name:       "title_shouting",
			Expression: `size(content.title) > 3 && content.title.matches("^[^a-z]+$")`,
		},
		{
			Name:       "keyword_repetition",
			Expression: `content.keywords.exists(k, size(content.keywords.filter(x, x == k)) > 1)`,
		},
	}
}

type compiledRule struct {
	name    string
	program cel.Program
}

// ReviewPolicy flags generated content for human reviewers using CEL rules.
// Programs are compiled once at construction. Flags are advisory: they are
// stored on the record and never block a lifecycle transition.
type ReviewPolicy struct {
	rules []compiledRule
	log   *logger.Logger
}

// NewReviewPolicy compiles the given rules into a review policy
func NewReviewPolicy(rules []PolicyRule, log *logger.Logger) (*ReviewPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("content", cel.DynType),
		cel.Variable("brief", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", rule.Name, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to build program for rule %q: %w", rule.Name, err)
		}

		compiled = append(compiled, compiledRule{name: rule.Name, program: program})
	}

	return &ReviewPolicy{
		rules: compiled,
		log:   log,
	}, nil
}

// Evaluate returns the names of all rules that fire for the given content.
// Rule evaluation errors are logged and treated as non-matches.
func (p *ReviewPolicy) Evaluate(content *models.GeneratedContent, brief models.Brief) []string {
	activation := map[string]interface{}{
		"content": map[string]interface{}{
			"title":       content.Title,
			"description": content.Description,
			"keywords":    content.Keywords,
		},
		"brief": map[string]interface{}{
			"campaign_name":   brief.CampaignName,
			"product_name":    brief.ProductName,
			"target_audience": brief.TargetAudience,
			"brand_voice":     brief.BrandVoice,
		},
	}

	var flags []string
	for _, rule := range p.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			p.log.Warn("review rule evaluation failed", "rule", rule.name, "error", err)
			continue
		}

		if matched, ok := out.Value().(bool); ok && matched {
			flags = append(flags, rule.name)
		}
	}

	return flags
}
