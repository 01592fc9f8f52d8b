package chat

import (
	"strings"

	"scriptgate/internal/domain"
)

// Industry is the label attached to every chat reply.
type Industry string

const (
	Propane       Industry = "propane"
	Concrete      Industry = "concrete"
	FieldServices Industry = "field-services"
	Agency        Industry = "agency"
	Trucking      Industry = "trucking"
	B2B           Industry = "b2b"
	General       Industry = "general"
)

// Industries lists every label Classify can return.
var Industries = []Industry{Propane, Concrete, FieldServices, Agency, Trucking, B2B, General}

type keywordSet struct {
	industry Industry
	keywords []string
}

// messageKeywords is scanned against the live message, in priority order.
var messageKeywords = []keywordSet{
	{Propane, []string{"propane", "fuel", "heating oil", "degree day", "tank monitor"}},
	{Concrete, []string{"concrete", "ready-mix", "ready mix", "batching", "yard", "pour"}},
	{FieldServices, []string{"plumb", "hvac", "electric", "technician", "service call", "dispatch"}},
	{Agency, []string{"agency", "marketing", "client work", "reporting", "lead qual"}},
	{Trucking, []string{"trucking", "logistics", "hauling", "freight", "bol", "bill of lading"}},
	{B2B, []string{"b2b", "consulting", "professional services", "founder", "scale"}},
}

// historyKeywords is the narrower scan over earlier turns. B2B has no entry.
var historyKeywords = []keywordSet{
	{Propane, []string{"propane", "fuel delivery"}},
	{Concrete, []string{"concrete"}},
	{FieldServices, []string{"plumb", "hvac"}},
	{Agency, []string{"agency", "marketing"}},
	{Trucking, []string{"trucking", "logistics"}},
}

// pageIndustries maps industry-bearing page types to their label.
var pageIndustries = map[string]Industry{
	"propane":        Propane,
	"concrete":       Concrete,
	"field-services": FieldServices,
	"agencies":       Agency,
	"logistics":      Trucking,
	"b2b":            B2B,
}

// Classify returns the visitor's industry. An explicit keyword in message
// beats the page type, which beats anything said earlier in history.
func Classify(message string, history []domain.Turn, pageType string) Industry {
	if ind, ok := scan(strings.ToLower(message), messageKeywords); ok {
		return ind
	}
	if ind, ok := pageIndustries[strings.ToLower(strings.TrimSpace(pageType))]; ok {
		return ind
	}

	parts := make([]string, len(history))
	for i, t := range history {
		parts[i] = t.Content
	}
	if ind, ok := scan(strings.ToLower(strings.Join(parts, " ")), historyKeywords); ok {
		return ind
	}
	return General
}

func scan(text string, sets []keywordSet) (Industry, bool) {
	if text == "" {
		return "", false
	}
	for _, set := range sets {
		for _, kw := range set.keywords {
			if strings.Contains(text, kw) {
				return set.industry, true
			}
		}
	}
	return "", false
}
