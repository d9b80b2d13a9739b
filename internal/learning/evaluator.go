package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/learnloop/internal/judge"
	"go.uber.org/zap"
)

// ErrMalformedGrade is returned when the judge reply is not a usable grade.
var ErrMalformedGrade = errors.New("malformed grade")

const rubricPrompt = `You are grading an answer produced by an assistant that answers questions
from a curriculum knowledge graph. Grade it against the rubric below.

Rubric (each score is a number between 0.0 and 1.0):
- grounding: are the answer's claims traceable to the graph queries and cited evidence?
  0.9-1.0 every claim is supported; 0.6-0.8 minor unsupported detail; 0.3-0.5 mixed; below 0.3 mostly unsupported.
- accuracy: is the content factually correct for the curriculum?
  0.9-1.0 fully correct; 0.6-0.8 minor errors; 0.3-0.5 notable errors; below 0.3 wrong.
- completeness: does it answer every part of the question?
  0.9-1.0 complete; 0.6-0.8 small gaps; 0.3-0.5 partial; below 0.3 misses the point.
- domain_appropriateness: is it pitched correctly for the year level and teaching context?
  0.9-1.0 well pitched; 0.6-0.8 mostly; 0.3-0.5 uneven; below 0.3 inappropriate.
- clarity: is it well organised and easy to follow?
  0.9-1.0 very clear; 0.6-0.8 clear; 0.3-0.5 hard to follow; below 0.3 confusing.

Question:
{{.Question}}

Graph queries executed:
{{- if .Queries}}{{range .Queries}}
- {{.}}{{end}}{{else}} none{{end}}

Cited evidence ids:
{{- if .EvidenceIDs}}{{range .EvidenceIDs}}
- {{.}}{{end}}{{else}} none{{end}}

Answer:
{{.Answer}}

Reply with a single JSON object and nothing else:
{"grounding": 0.0, "accuracy": 0.0, "completeness": 0.0, "domain_appropriateness": 0.0, "clarity": 0.0,
 "strengths": ["..."], "weaknesses": ["..."], "suggestions": ["..."]}
Use at most 5 short items per list.`

var rubricTemplate = template.Must(template.New("rubric").Parse(rubricPrompt))

// Evaluator grades interactions with a judge model.
type Evaluator struct {
	judge  judge.Client
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(client judge.Client, logger *zap.Logger) (*Evaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("judge client: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{judge: client, logger: logger}, nil
}

// Evaluate grades in. It never fails: judge errors and unusable replies
// yield DefaultEvaluation. The overall score is always computed here from
// the dimension scores.
func (e *Evaluator) Evaluate(ctx context.Context, in Interaction) Evaluation {
	prompt, err := BuildRubricPrompt(in)
	if err != nil {
		return e.fallback(in, err)
	}

	reply, err := e.judge.Complete(ctx, prompt)
	if err != nil {
		return e.fallback(in, err)
	}

	eval, err := ParseGrade(reply)
	if err != nil {
		return e.fallback(in, err)
	}

	e.logger.Debug("interaction graded",
		zap.String("interaction_id", in.InteractionID),
		zap.Float64("overall_score", eval.Overall))
	return eval
}

func (e *Evaluator) fallback(in Interaction, err error) Evaluation {
	e.logger.Warn("grading failed, using default evaluation",
		zap.String("interaction_id", in.InteractionID),
		zap.Error(err))
	return DefaultEvaluation(err.Error())
}

// BuildRubricPrompt renders the grading prompt for in.
func BuildRubricPrompt(in Interaction) (string, error) {
	var sb strings.Builder
	if err := rubricTemplate.Execute(&sb, in); err != nil {
		return "", fmt.Errorf("rendering rubric prompt: %w", err)
	}
	return sb.String(), nil
}

type gradeReply struct {
	Grounding             *float64 `json:"grounding"`
	Accuracy              *float64 `json:"accuracy"`
	Completeness          *float64 `json:"completeness"`
	DomainAppropriateness *float64 `json:"domain_appropriateness"`
	Clarity               *float64 `json:"clarity"`
	Strengths             []string `json:"strengths"`
	Weaknesses            []string `json:"weaknesses"`
	Suggestions           []string `json:"suggestions"`
}

// ParseGrade extracts an Evaluation from a judge reply. Any overall score
// in the reply is ignored.
func ParseGrade(reply string) (Evaluation, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Evaluation{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedGrade)
	}

	var g gradeReply
	if err := json.Unmarshal([]byte(reply[start:end+1]), &g); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedGrade, err)
	}
	if g.Grounding == nil || g.Accuracy == nil || g.Completeness == nil ||
		g.DomainAppropriateness == nil || g.Clarity == nil {
		return Evaluation{}, fmt.Errorf("%w: missing dimension score", ErrMalformedGrade)
	}

	s := Scores{
		Grounding:             *g.Grounding,
		Accuracy:              *g.Accuracy,
		Completeness:          *g.Completeness,
		DomainAppropriateness: *g.DomainAppropriateness,
		Clarity:               *g.Clarity,
	}
	if err := s.Validate(); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedGrade, err)
	}

	return Evaluation{
		Scores:      s,
		Overall:     s.Overall(),
		Strengths:   boundFeedback(g.Strengths),
		Weaknesses:  boundFeedback(g.Weaknesses),
		Suggestions: boundFeedback(g.Suggestions),
	}, nil
}
