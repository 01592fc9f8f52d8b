package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   5000,
			ServiceName:            "resultant-ai-api",
			MaxBodyBytes:           1 << 20,
			CORSOrigins:            []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Runner: RunnerConfig{
			WorkDir:            ".",
			MaxOutputBytes:     8 << 20,
			MaxDiagnosticBytes: 64 << 10,
			KillGraceSeconds:   2,
		},
		Targets: map[string]TargetConfig{
			"audit":   {Command: "python3", Script: "marketing_audit.py"},
			"enrich":  {Command: "python3", Script: "lead_enrichment.py"},
			"qualify": {Command: "python3", Script: "mca_qualification.py"},
		},
		Routes: defaultRoutes(),
		Chat: ChatConfig{
			Provider:        "claude",
			MaxTokens:       2048,
			MaxHistoryTurns: 20,
			BookingURL:      "https://meetings.hubspot.com/resultantai/paper-to-digital",
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				DefaultModel: "claude-sonnet-4-5-20250929",
			},
			"openai": {
				Enabled: false,
				APIBase: "https://api.openai.com/v1",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
			"script": {
				Enabled: false,
				Target:  "generate",
			},
		},
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "~/.scriptgate/audit.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

func defaultRoutes() []RouteConfig {
	return []RouteConfig{
		{
			Name:        "index",
			Method:      "GET",
			Path:        "/",
			Kind:        RouteDocs,
			Summary:     "API documentation",
			Description: "Describe every endpoint this server exposes",
		},
		{
			Name:        "docs",
			Method:      "GET",
			Path:        "/api/docs",
			Kind:        RouteDocs,
			Summary:     "API documentation",
			Description: "Describe every endpoint this server exposes",
		},
		{
			Name:        "health",
			Method:      "GET",
			Path:        "/health",
			Kind:        RouteHealth,
			Summary:     "Health check",
			Description: "Health check endpoint for monitoring and load balancers",
		},
		{
			Name:           "audit",
			Method:         "POST",
			Path:           "/audit",
			Kind:           RouteScript,
			Target:         "audit",
			Summary:        "Run marketing audit (requires: url, industry)",
			Description:    "Generate comprehensive marketing audit for a company website",
			Required:       []string{"url", "industry"},
			TimeoutSeconds: 120,
			Example: map[string]any{
				"url":      "https://example.com",
				"industry": "SaaS",
			},
		},
		{
			Name:           "enrich",
			Method:         "POST",
			Path:           "/enrich",
			Kind:           RouteScript,
			Target:         "enrich",
			Summary:        "Enrich company data (requires: domain)",
			Description:    "Enrich company data and score against ICP criteria",
			Required:       []string{"domain"},
			Optional:       []string{"company"},
			TimeoutSeconds: 90,
			Example: map[string]any{
				"domain":  "stripe.com",
				"company": "Stripe",
			},
		},
		{
			Name:           "qualify",
			Method:         "POST",
			Path:           "/qualify",
			Kind:           RouteScript,
			Target:         "qualify",
			Summary:        "Qualify MCA application (requires: company_name, annual_revenue, credit_score, business_age_months)",
			Description:    "Qualify business for Merchant Cash Advance",
			Required:       []string{"company_name", "annual_revenue", "credit_score", "business_age_months"},
			Optional:       []string{"industry", "monthly_revenue", "existing_debt", "notes"},
			TimeoutSeconds: 60,
			Example: map[string]any{
				"company_name":        "Acme Corp",
				"annual_revenue":      500000,
				"credit_score":        650,
				"business_age_months": 24,
				"industry":            "Retail",
			},
		},
		{
			Name:           "chat",
			Method:         "POST",
			Path:           "/chat",
			Kind:           RouteChat,
			Summary:        "Website chatbot (requires: message)",
			Description:    "Website chatbot with industry detection and page-aware context",
			Required:       []string{"message"},
			Optional:       []string{"conversation_history", "page_context"},
			TimeoutSeconds: 90,
			Example: map[string]any{
				"message":              "We are looking for a propane delivery system",
				"conversation_history": []any{},
				"page_context": map[string]any{
					"page_type": "propane",
					"url":       "https://resultantai.com/propane.html",
				},
			},
		},
	}
}
