package chat

import (
	_ "embed"
	"maps"
)

// DefaultGreetingKey selects the greeting for unrecognized page types.
const DefaultGreetingKey = "default"

//go:embed system_prompt.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the compiled-in system prompt.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

var defaultGreetings = map[string]string{
	"homepage":       "Hey there. I can help you figure out if ResultantAI is a fit for your business. What kind of work does your company do?",
	"propane":        "Looking at propane delivery systems? I can answer questions about pricing, deployment timeline, or how our system compares to ADD Systems and Suburban. What would be most helpful?",
	"logistics":      "Interested in trucking and logistics dispatch systems? I can explain how we help eliminate paper tickets and speed up billing. What would you like to know?",
	"field-services": "Checking out our field services solutions? I can tell you about our 24/7 AI call handling, dispatch automation, and how Wayne Conn Plumbing captured $5K/month with our system. What interests you most?",
	"agencies":       "Looking at solutions for marketing agencies? I can explain how Adleg reduced their audit time from 90 minutes to 2 minutes, or talk about AI cost control with our Gateway product. What brings you here?",
	"b2b":            "Interested in scaling your B2B service business? I can discuss sales automation, onboarding systems, or how to remove yourself as the bottleneck. What challenge are you facing?",
	"case-studies":   "These case studies show real results from real clients. Want me to help you figure out which one is most relevant to your situation?",
	"gateway":        "AI Gateway helps agencies and SaaS companies control AI costs. Are you looking to reduce your current spend, or just exploring options?",
	"default":        "Hey there. I can help you understand how ResultantAI builds revenue systems for service businesses. What would you like to know?",
}

// Greetings maps page types to the canned opening line.
type Greetings map[string]string

// DefaultGreetings returns a copy of the compiled-in table.
func DefaultGreetings() Greetings {
	return maps.Clone(defaultGreetings)
}

// MergeGreetings overlays overrides on the compiled-in table.
func MergeGreetings(overrides map[string]string) Greetings {
	g := DefaultGreetings()
	for k, v := range overrides {
		if v != "" {
			g[k] = v
		}
	}
	return g
}

// For returns the greeting for pageType, falling back to the default entry.
func (g Greetings) For(pageType string) string {
	if s, ok := g[pageType]; ok {
		return s
	}
	if s, ok := g[DefaultGreetingKey]; ok {
		return s
	}
	return defaultGreetings[DefaultGreetingKey]
}
