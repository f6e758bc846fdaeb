package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"cavvy/internal/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type seedAgent struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	SystemPrompt   string            `yaml:"system_prompt"`
	SectionPrompts map[string]string `yaml:"section_prompts"`
}

type seedFile struct {
	CanvasTypes []domain.CanvasType `yaml:"canvas_types"`
	Agents      []seedAgent         `yaml:"agents"`
}

// LoadSeed parses a shared catalog document and validates every type in it.
func LoadSeed(raw []byte) ([]domain.CanvasType, []domain.AIAgent, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse seed catalog: %w", err)
	}

	validate := validator.New()
	for i := range file.CanvasTypes {
		if err := validate.Struct(&file.CanvasTypes[i]); err != nil {
			return nil, nil, fmt.Errorf("seed canvas type %q: %w", file.CanvasTypes[i].ID, err)
		}
	}

	agents := make([]domain.AIAgent, 0, len(file.Agents))
	for _, a := range file.Agents {
		agents = append(agents, domain.AIAgent{
			ID:             a.ID,
			Name:           a.Name,
			SystemPrompt:   a.SystemPrompt,
			SectionPrompts: a.SectionPrompts,
		})
	}
	return file.CanvasTypes, agents, nil
}

// DefaultSeed returns the built-in shared catalog.
func DefaultSeed() ([]domain.CanvasType, []domain.AIAgent, error) {
	return LoadSeed(seedYAML)
}

// Seed writes the built-in shared catalog when the shared catalog is empty.
// It reports whether anything was written.
func Seed(ctx context.Context, repo Repository) (bool, error) {
	count, err := repo.CountTypes(ctx, SharedOwner)
	if err != nil {
		return false, fmt.Errorf("count shared canvas types: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	types, agents, err := DefaultSeed()
	if err != nil {
		return false, err
	}
	for i := range types {
		if err := repo.SaveType(ctx, SharedOwner, &types[i]); err != nil {
			return false, fmt.Errorf("seed canvas type %q: %w", types[i].ID, err)
		}
	}
	for i := range agents {
		if err := repo.SaveAgent(ctx, SharedOwner, &agents[i]); err != nil {
			return false, fmt.Errorf("seed agent %q: %w", agents[i].ID, err)
		}
	}
	return true, nil
}
