package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message in a visitor conversation. History is owned by the
// caller and resent on every request; the gateway never stores it.
type Turn struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// DefaultPageType is assumed when the caller does not say which page the
// conversation started on.
const DefaultPageType = "homepage"

// PageContext describes the site page a conversation originated from.
type PageContext struct {
	PageType    string `json:"page_type,omitempty"` // homepage | propane | concrete | logistics | field-services | agencies | b2b | case-studies | gateway
	URL         string `json:"url,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
}

// EffectivePageType returns the page type, falling back to DefaultPageType.
func (p PageContext) EffectivePageType() string {
	if p.PageType == "" {
		return DefaultPageType
	}
	return p.PageType
}
