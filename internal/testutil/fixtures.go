package testutil

import "github.com/Veraticus/ledgerflow/internal/model"

// Profile returns a small business profile used across tests.
func Profile(clientID string) *model.BusinessProfile {
	return &model.BusinessProfile{
		ClientID:            clientID,
		CompanyName:         "Harbor Light Photography",
		BusinessType:        "Sole proprietorship",
		BusinessDescription: "Wedding and portrait photography",
		Location:            "Portland, OR",
		CommonExpenses:      "Camera gear, studio rent, travel",
		IndustryKeywords:    "photography, studio, prints",
	}
}

// IRSCategories returns a subset of the Schedule C worksheet lines.
func IRSCategories() []model.IRSCategory {
	return []model.IRSCategory{
		{Worksheet: model.WorksheetDefault, LineNumber: "8", Name: "Advertising", IsActive: true},
		{Worksheet: model.WorksheetDefault, LineNumber: "9", Name: "Car and truck expenses", IsActive: true},
		{Worksheet: model.WorksheetDefault, LineNumber: "18", Name: "Office expense", IsActive: true},
		{Worksheet: model.WorksheetDefault, LineNumber: "22", Name: "Supplies", IsActive: true},
		{Worksheet: model.WorksheetDefault, LineNumber: "24a", Name: "Travel", IsActive: true},
	}
}

// BusinessCategories returns client-specific categories for clientID.
func BusinessCategories(clientID string) []model.BusinessCategory {
	return []model.BusinessCategory{
		{ClientID: clientID, Worksheet: model.WorksheetDefault, Name: "Studio Rental", IsActive: true},
	}
}

// Agent returns an agent definition of the given type bound to a test model.
func Agent(name string, agentType model.AgentType, prompt string, tools ...string) *model.Agent {
	agent := &model.Agent{
		Name:   name,
		Type:   agentType,
		Prompt: prompt,
		LLM:    model.LLMConfig{Provider: "openai", Model: "test-model"},
	}
	for _, tool := range tools {
		agent.Tools = append(agent.Tools, model.Tool{Name: tool, Implementation: tool})
	}
	return agent
}
