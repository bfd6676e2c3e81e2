package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/usecase"
)

// PromptsConfig contains prompt templates loaded from YAML
type PromptsConfig struct {
	Agent     AgentPrompts      `yaml:"agent"`
	Tones     map[string]string `yaml:"tones"`
	History   HistoryConfig     `yaml:"history"`
	Knowledge KnowledgeConfig   `yaml:"knowledge"`
}

// AgentPrompts contains the generation prompts
type AgentPrompts struct {
	SystemTemplate  string `yaml:"system_template"`
	KnowledgeHeader string `yaml:"knowledge_header"`
	NoKnowledgeNote string `yaml:"no_knowledge_note"`
	AnswerFormat    string `yaml:"answer_format"`
}

// HistoryConfig contains history truncation settings
type HistoryConfig struct {
	MaxCount   int `yaml:"max_count"`
	MaxMinutes int `yaml:"max_minutes"`
}

// KnowledgeConfig contains knowledge rendering settings
type KnowledgeConfig struct {
	MaxFragmentChars int `yaml:"max_fragment_chars"`
}

// LoadPromptsConfig loads prompts from YAML. Without a path the default
// locations are tried, and built-in prompts are used if none exists.
func LoadPromptsConfig(configPath string) (*PromptsConfig, string, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{"configs/prompts.yaml", "/etc/chatbot/prompts.yaml"}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
		if configPath != "" {
			return nil, "", fmt.Errorf("failed to read prompts %s: %w", configPath, err)
		}
	}

	if data == nil {
		return DefaultPromptsConfig(), "", nil
	}

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}
	config.fillDefaults()
	return &config, loadedPath, nil
}

// DefaultPromptsConfig returns the built-in prompts
func DefaultPromptsConfig() *PromptsConfig {
	d := usecase.DefaultPromptConfig
	tones := make(map[string]string, len(d.ToneGuides))
	for tone, guide := range d.ToneGuides {
		tones[string(tone)] = guide
	}
	return &PromptsConfig{
		Agent: AgentPrompts{
			SystemTemplate:  d.SystemTemplate,
			KnowledgeHeader: d.KnowledgeHeader,
			NoKnowledgeNote: d.NoKnowledgeNote,
			AnswerFormat:    d.AnswerFormat,
		},
		Tones:     tones,
		History:   HistoryConfig{MaxCount: d.MaxHistoryCount, MaxMinutes: d.MaxHistoryMinutes},
		Knowledge: KnowledgeConfig{MaxFragmentChars: d.MaxFragmentChars},
	}
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Agent.SystemTemplate == "" {
		c.Agent.SystemTemplate = defaults.Agent.SystemTemplate
	}
	if c.Agent.KnowledgeHeader == "" {
		c.Agent.KnowledgeHeader = defaults.Agent.KnowledgeHeader
	}
	if c.Agent.NoKnowledgeNote == "" {
		c.Agent.NoKnowledgeNote = defaults.Agent.NoKnowledgeNote
	}
	if c.Agent.AnswerFormat == "" {
		c.Agent.AnswerFormat = defaults.Agent.AnswerFormat
	}

	if c.Tones == nil {
		c.Tones = make(map[string]string)
	}
	for tone, guide := range defaults.Tones {
		if c.Tones[tone] == "" {
			c.Tones[tone] = guide
		}
	}

	if c.History.MaxCount == 0 {
		c.History.MaxCount = defaults.History.MaxCount
	}
	if c.History.MaxMinutes == 0 {
		c.History.MaxMinutes = defaults.History.MaxMinutes
	}
	if c.Knowledge.MaxFragmentChars == 0 {
		c.Knowledge.MaxFragmentChars = defaults.Knowledge.MaxFragmentChars
	}
}

// ToPromptConfig converts to the context builder configuration
func (c *PromptsConfig) ToPromptConfig() usecase.PromptConfig {
	guides := make(map[domain.Tone]string, len(c.Tones))
	for tone, guide := range c.Tones {
		guides[domain.Tone(tone)] = guide
	}
	return usecase.PromptConfig{
		SystemTemplate:    c.Agent.SystemTemplate,
		KnowledgeHeader:   c.Agent.KnowledgeHeader,
		NoKnowledgeNote:   c.Agent.NoKnowledgeNote,
		AnswerFormat:      c.Agent.AnswerFormat,
		ToneGuides:        guides,
		MaxHistoryCount:   c.History.MaxCount,
		MaxHistoryMinutes: c.History.MaxMinutes,
		MaxFragmentChars:  c.Knowledge.MaxFragmentChars,
	}
}
