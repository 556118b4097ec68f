// Package llm is the boundary to the external model that proposes formula
// mappings. The engine never generates formulas itself; it only sends a
// request through a Provider and treats whatever comes back as untrusted
// input to be repaired and validated by the mapping package.
package llm

import (
	"context"
)

// Provider is the interface every model backend implements.
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
}
