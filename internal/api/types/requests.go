package types

type ProjectCreateRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Region      string `json:"region" validate:"omitempty"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=3"`
}

type EditRequest struct {
	Prompt string `json:"prompt" validate:"required,min=3"`
}
