package artifact

import "context"

// Severity of a validation finding.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Finding is one issue reported by a validator.
type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Message  string `json:"message"`
}

// Validator inspects a checked-out artifact tree. Implementations wrap
// external tools (policy scanners, linters) and must not mutate the tree.
type Validator interface {
	// Validate runs against dir and returns findings. An empty slice
	// means the tree passed.
	Validate(ctx context.Context, dir string) ([]Finding, error)
}

// nopValidator reports no findings.
type nopValidator struct{}

// NewNopValidator returns a Validator that always passes.
func NewNopValidator() Validator { return nopValidator{} }

func (nopValidator) Validate(context.Context, string) ([]Finding, error) {
	return nil, nil
}
