package catalog

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const masterSchema = `{
  "type": "object",
  "required": ["id", "years"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "years": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["year"],
        "properties": {
          "year": {"type": "integer", "minimum": 1},
          "title": {"type": "string"},
          "roadmaps": {"type": "array", "items": {"type": "string"}},
          "electives": {"type": "object", "additionalProperties": {"type": "string", "minLength": 1}},
          "test_out_roadmap": {"type": "string"}
        }
      }
    }
  }
}`

const roadmapSchema = `{
  "type": "object",
  "required": ["slug", "title", "nodes"],
  "properties": {
    "slug": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
    "title": {"type": "string", "minLength": 1},
    "published": {"type": "boolean"},
    "quiz_attempt_limit": {"type": "integer", "minimum": 1},
    "passing_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"}
        }
      }
    }
  }
}`

const quizBankSchema = `{
  "type": "object",
  "required": ["roadmap", "quizzes"],
  "properties": {
    "roadmap": {"type": "string", "minLength": 1},
    "quizzes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "questions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "settings": {
            "type": "object",
            "properties": {
              "time_limit_seconds": {"type": "integer", "minimum": 0},
              "passing_score": {"type": "integer", "minimum": 0, "maximum": 100}
            }
          },
          "questions": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "text", "type", "options", "correct"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "text": {"type": "string"},
                "type": {"enum": ["single", "multiple"]},
                "options": {"type": "array", "minItems": 1, "items": {"type": "string"}},
                "correct": {"type": "array", "minItems": 1, "items": {"type": "string"}},
                "topic": {"type": "string"},
                "difficulty": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

// documentSchemas compiles the schema of every catalog document kind.
type documentSchemas struct {
	master   *gojsonschema.Schema
	roadmap  *gojsonschema.Schema
	quizBank *gojsonschema.Schema
}

func compileSchemas() (*documentSchemas, error) {
	compile := func(name, src string) (*gojsonschema.Schema, error) {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return s, nil
	}

	master, err := compile("master", masterSchema)
	if err != nil {
		return nil, err
	}
	roadmap, err := compile("roadmap", roadmapSchema)
	if err != nil {
		return nil, err
	}
	quizBank, err := compile("quiz bank", quizBankSchema)
	if err != nil {
		return nil, err
	}
	return &documentSchemas{master: master, roadmap: roadmap, quizBank: quizBank}, nil
}

// validateDocument checks a decoded YAML document against schema.
func validateDocument(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
}
