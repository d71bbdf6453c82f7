package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/finquery/finquery/internal/genai"
)

// Classifier grades a question with a yes/no verdict. Each grading stage
// holds one; production wiring uses the generation-backed implementation,
// tests and the pass-through default use the fixed one.
type Classifier interface {
	Classify(ctx context.Context, question string) (Verdict, error)
}

// FixedClassifier always returns the same verdict.
type FixedClassifier struct {
	Verdict Verdict
}

func (c FixedClassifier) Classify(context.Context, string) (Verdict, error) {
	return c.Verdict, nil
}

// SubjectClassifier asks the generation capability whether a question is
// about financial data or client portfolios.
type SubjectClassifier struct {
	Generator genai.Generator
}

func (c *SubjectClassifier) Classify(ctx context.Context, question string) (Verdict, error) {
	prompt := fmt.Sprintf(
		"You are a financial advisor grading whether the following question is about financial/price data or about a client's portfolio.\nQuestion: %s\n\nReturn only yes or no.",
		question,
	)
	answer, err := c.Generator.Generate(ctx, prompt)
	if err != nil {
		return VerdictUnset, fmt.Errorf("classify subject: %w", err)
	}
	return ParseVerdict(answer), nil
}

// ClassifierFromMode builds the subject grader selected by configuration:
// "llm" or "fixed:yes" / "fixed:no".
func ClassifierFromMode(mode string, generator genai.Generator) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "llm":
		if generator == nil {
			return nil, fmt.Errorf("llm classifier requires a generator")
		}
		return &SubjectClassifier{Generator: generator}, nil
	case "", "fixed:yes":
		return FixedClassifier{Verdict: VerdictYes}, nil
	case "fixed:no":
		return FixedClassifier{Verdict: VerdictNo}, nil
	default:
		return nil, fmt.Errorf("unknown classifier mode: %q", mode)
	}
}
