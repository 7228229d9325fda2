package main

import (
	"fmt"

	"github.com/weillium/eventrt/internal/config"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/modelsession"
)

// configSessionFactory implements lifecycle.SessionFactory over the
// process's static config.Config: it has no per-event model-set registry of
// its own (spec.md's Non-goals exclude prompt/model authoring), so modelSet
// and apiKeyOverride — both sourced from the durable Agent row — only take
// effect when non-empty, overriding the agent type's configured model name
// and API key respectively. Grounded on the teacher's buildProviders
// wiring in cmd/glyphoxa/main.go: a small struct closing over *config.Config
// that turns configuration into a concrete provider construction call.
type configSessionFactory struct {
	cfg *config.Config
}

func newSessionFactory(cfg *config.Config) *configSessionFactory {
	return &configSessionFactory{cfg: cfg}
}

// BuildConfig implements lifecycle.SessionFactory.
func (f *configSessionFactory) BuildConfig(agentType eventmodel.AgentType, eventID, modelSet, apiKeyOverride string) (modelsession.Config, error) {
	entry, err := f.entryFor(agentType)
	if err != nil {
		return modelsession.Config{}, err
	}

	model := entry.Name
	if modelSet != "" {
		model = modelSet
	}
	apiKey := entry.APIKey
	if apiKeyOverride != "" {
		apiKey = apiKeyOverride
	}
	if model == "" {
		return modelsession.Config{}, fmt.Errorf("sessionfactory: no model configured for agent type %s", agentType)
	}
	if apiKey == "" {
		return modelsession.Config{}, fmt.Errorf("sessionfactory: no api key configured for agent type %s", agentType)
	}

	url := entry.BaseURL
	if url == "" {
		url = defaultRealtimeURL
	}

	return modelsession.Config{
		AgentType:    agentType,
		URL:          url + "?model=" + model,
		APIKey:       apiKey,
		Instructions: entry.Instructions,
	}, nil
}

const defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

func (f *configSessionFactory) entryFor(agentType eventmodel.AgentType) (config.ModelEntry, error) {
	switch agentType {
	case eventmodel.AgentTranscript:
		return f.cfg.Models.Transcript, nil
	case eventmodel.AgentCards:
		return f.cfg.Models.Cards, nil
	case eventmodel.AgentFacts:
		return f.cfg.Models.Facts, nil
	default:
		return config.ModelEntry{}, fmt.Errorf("sessionfactory: unknown agent type %s", agentType)
	}
}
