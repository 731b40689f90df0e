package generation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/inference"
)

//go:embed templates/task.txt.go.tmpl
var defaultUserTemplate string

var systemPrompts = map[collection.Kind]string{
	collection.KindDeck: `You write spaced-repetition flashcards for students.
STRICT OUTPUT: Return ONLY a JSON object. No text outside the JSON.`,
	collection.KindExam: `You write exam questions that test understanding, not trivia.
Match the requested source style and difficulty.
STRICT OUTPUT: Return ONLY a JSON object. No text outside the JSON.`,
}

var outputSchemas = map[collection.Kind]map[string]any{
	collection.KindDeck: {
		"type": "object",
		"properties": map[string]any{
			"front": map[string]any{"type": "string", "minLength": 1},
			"back":  map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"front", "back"},
	},
	collection.KindExam: {
		"type": "object",
		"properties": map[string]any{
			"stem":        map[string]any{"type": "string", "minLength": 1},
			"choices":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"answer":      map[string]any{"type": "string", "minLength": 1},
			"explanation": map[string]any{"type": "string"},
		},
		"required": []any{"stem", "answer"},
	},
}

type promptData struct {
	Kind           string
	Subject        string
	Ordinal        int
	Total          int
	MultipleChoice bool
	allocation.Spec
}

// PromptBuilder renders task prompts and validates the model's answers.
type PromptBuilder struct {
	tmpl        *template.Template
	schemas     map[collection.Kind]*jsonschema.Schema
	maxTokens   int
	temperature float64
}

// NewPromptBuilder uses the template at templatePath, or the built-in one
// when the path is empty.
func NewPromptBuilder(templatePath string, maxTokens int, temperature float64) (*PromptBuilder, error) {
	text := defaultUserTemplate
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("os.ReadFile(%s) > %w", templatePath, err)
		}
		text = string(data)
	}
	tmpl, err := template.New("prompt").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template.Parse > %w", err)
	}

	schemas := make(map[collection.Kind]*jsonschema.Schema, len(outputSchemas))
	for kind, def := range outputSchemas {
		compiled, err := compileSchema(string(kind), def)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		schemas[kind] = compiled
	}

	return &PromptBuilder{
		tmpl:        tmpl,
		schemas:     schemas,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

func compileSchema(name string, def map[string]any) (*jsonschema.Schema, error) {
	defBytes, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	schemaURL := fmt.Sprintf("schema://%s.json", name)
	if err := c.AddResource(schemaURL, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile(schemaURL)
}

// Build renders the prompt for one task.
func (b *PromptBuilder) Build(job *Job, task *Task) (inference.Prompt, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, promptData{
		Kind:           string(job.CollectionKind),
		Subject:        job.Subject,
		Ordinal:        task.Ordinal,
		Total:          job.TargetCount,
		MultipleChoice: task.Format == allocation.FormatMultipleChoice,
		Spec:           task.Spec(),
	}); err != nil {
		return inference.Prompt{}, fmt.Errorf("template.Execute > %w", err)
	}

	return inference.Prompt{
		System:      systemPrompts[job.CollectionKind],
		User:        buf.String(),
		Schema:      outputSchemas[job.CollectionKind],
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	}, nil
}

// Parse extracts and validates the generated content of one task.
func (b *PromptBuilder) Parse(kind collection.Kind, format, content string) (Output, error) {
	raw, err := inference.ExtractJSON(content)
	if err != nil {
		return Output{}, err
	}

	schema, ok := b.schemas[kind]
	if !ok {
		return Output{}, fmt.Errorf("unknown collection kind %q", kind)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Output{}, &inference.MalformedOutputError{Output: content, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return Output{}, &inference.MalformedOutputError{Output: content, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	switch kind {
	case collection.KindDeck:
		var card Card
		if err := json.Unmarshal(raw, &card); err != nil {
			return Output{}, &inference.MalformedOutputError{Output: content, Err: err}
		}
		card.Front = strings.TrimSpace(card.Front)
		card.Back = strings.TrimSpace(card.Back)
		if card.Front == "" || card.Back == "" {
			return Output{}, &inference.MalformedOutputError{Output: content, Err: errors.New("card front and back must not be blank")}
		}
		return Output{Card: &card}, nil

	default:
		var question Question
		if err := json.Unmarshal(raw, &question); err != nil {
			return Output{}, &inference.MalformedOutputError{Output: content, Err: err}
		}
		question.Stem = strings.TrimSpace(question.Stem)
		question.Answer = strings.TrimSpace(question.Answer)
		question.Explanation = strings.TrimSpace(question.Explanation)
		if question.Stem == "" || question.Answer == "" {
			return Output{}, &inference.MalformedOutputError{Output: content, Err: errors.New("question stem and answer must not be blank")}
		}
		for i, choice := range question.Choices {
			if question.Choices[i] = strings.TrimSpace(choice); question.Choices[i] == "" {
				return Output{}, &inference.MalformedOutputError{Output: content, Err: fmt.Errorf("choice %d is blank", i+1)}
			}
		}
		if format == allocation.FormatMultipleChoice && len(question.Choices) < 2 {
			return Output{}, &inference.MalformedOutputError{Output: content, Err: errors.New("multiple choice question needs at least 2 choices")}
		}
		return Output{Question: &question}, nil
	}
}
