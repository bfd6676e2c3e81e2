package domain

import (
	"fmt"
	"time"
)

// Tone is the register the agent answers in
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

// Valid reports whether t is a known tone
func (t Tone) Valid() bool {
	switch t {
	case ToneFriendly, ToneProfessional, ToneCasual, ToneFormal:
		return true
	}
	return false
}

// Channel is the delivery channel of a tenant
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelFeishu   Channel = "feishu"
)

const (
	DefaultDebounce        = 15 * time.Second
	DefaultHumanInactivity = 30 * time.Minute
	DefaultHistoryWindow   = 10
	DefaultTopK            = 4
	DefaultFallbackMessage = "Vou chamar alguém da equipe para te ajudar. Só um momento!"
)

// BotConfig is the per-tenant agent configuration
type BotConfig struct {
	TenantID               string  `yaml:"tenant_id" json:"tenant_id"`
	BusinessName           string  `yaml:"business_name" json:"business_name"`
	Tone                   Tone    `yaml:"tone" json:"tone"`
	Instructions           string  `yaml:"instructions" json:"instructions"`
	FallbackMessage        string  `yaml:"fallback_message" json:"fallback_message"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	DebounceSeconds        int     `yaml:"debounce_seconds" json:"debounce_seconds"`
	HumanInactivityMinutes int     `yaml:"human_inactivity_minutes" json:"human_inactivity_minutes"`
	HistoryWindow          int     `yaml:"history_window" json:"history_window"`
	TopK                   int     `yaml:"top_k" json:"top_k"`
	Channel                Channel `yaml:"channel" json:"channel"`
}

// DefaultBotConfig returns the configuration used for tenants without a stored one
func DefaultBotConfig(tenantID string) *BotConfig {
	return &BotConfig{
		TenantID:            tenantID,
		Tone:                ToneFriendly,
		FallbackMessage:     DefaultFallbackMessage,
		ConfidenceThreshold: 0.6,
		Channel:             ChannelWhatsApp,
	}
}

// Debounce returns the quiet period, 15s when unset
func (c *BotConfig) Debounce() time.Duration {
	if c == nil || c.DebounceSeconds <= 0 {
		return DefaultDebounce
	}
	return time.Duration(c.DebounceSeconds) * time.Second
}

// HumanInactivity returns how long an operator may stay silent before the AI takes back the thread
func (c *BotConfig) HumanInactivity() time.Duration {
	if c == nil || c.HumanInactivityMinutes <= 0 {
		return DefaultHumanInactivity
	}
	return time.Duration(c.HumanInactivityMinutes) * time.Minute
}

// History returns the number of recent messages fed to the generator
func (c *BotConfig) History() int {
	if c == nil || c.HistoryWindow <= 0 {
		return DefaultHistoryWindow
	}
	return c.HistoryWindow
}

// Fragments returns the retrieval depth
func (c *BotConfig) Fragments() int {
	if c == nil || c.TopK <= 0 {
		return DefaultTopK
	}
	return c.TopK
}

// Fallback returns the fallback message, never empty
func (c *BotConfig) Fallback() string {
	if c == nil || c.FallbackMessage == "" {
		return DefaultFallbackMessage
	}
	return c.FallbackMessage
}

// Validate checks ranges and enums
func (c *BotConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v out of [0,1]", c.ConfidenceThreshold)
	}
	if c.Tone != "" && !c.Tone.Valid() {
		return fmt.Errorf("unknown tone %q", c.Tone)
	}
	if c.DebounceSeconds < 0 || c.HumanInactivityMinutes < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch c.Channel {
	case "", ChannelWhatsApp, ChannelFeishu:
	default:
		return fmt.Errorf("unknown channel %q", c.Channel)
	}
	return nil
}
