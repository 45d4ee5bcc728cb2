package recommendations

import (
	"context"
	"sort"
	"strings"

	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
)

// Request carries the questionnaire outcome for one health vertical.
type Request struct {
	Responses map[string]any `json:"responses"`
	Questions []string       `json:"questions,omitempty"`
}

// Result tells the storefront whether the shopper may proceed to purchase and
// where to send them otherwise.
type Result struct {
	CanPurchase  bool   `json:"can_purchase"`
	RedirectPath string `json:"redirect_path,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Func is one vertical's recommendation rule. Implementations must be pure;
// the registry shares them across requests without locking.
type Func func(req Request) Result

// Registry is an immutable vertical-to-rule mapping built at startup.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry copies the provided mapping. Later changes to the input map do
// not affect the registry.
func NewRegistry(funcs map[string]Func) *Registry {
	copied := make(map[string]Func, len(funcs))
	for vertical, fn := range funcs {
		copied[normalizeVertical(vertical)] = fn
	}
	return &Registry{funcs: copied}
}

// Recommend runs the vertical's rule against the questionnaire outcome.
func (r *Registry) Recommend(_ context.Context, vertical string, req Request) (Result, error) {
	fn, ok := r.funcs[normalizeVertical(vertical)]
	if !ok {
		return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown health vertical").
			WithDetails(map[string]any{"vertical": vertical})
	}
	return fn(req), nil
}

// Verticals lists the registered vertical slugs in stable order.
func (r *Registry) Verticals() []string {
	verticals := make([]string, 0, len(r.funcs))
	for vertical := range r.funcs {
		verticals = append(verticals, vertical)
	}
	sort.Strings(verticals)
	return verticals
}

func normalizeVertical(vertical string) string {
	return strings.ToLower(strings.TrimSpace(vertical))
}

// DefaultFuncs returns the stock rule set. Each rule blocks purchase on the
// red-flag answers for its vertical and lets everything else through.
func DefaultFuncs() map[string]Func {
	return map[string]Func{
		"hair-loss": func(req Request) Result {
			if truthy(req.Responses["scalp_condition"]) {
				return Result{
					CanPurchase:  false,
					RedirectPath: "/consult/dermatology",
					Message:      "A scalp condition needs a dermatology consult before treatment.",
				}
			}
			return Result{CanPurchase: true}
		},
		"sexual-health": func(req Request) Result {
			if truthy(req.Responses["nitrate_medication"]) {
				return Result{
					CanPurchase:  false,
					RedirectPath: "/consult/cardiology",
					Message:      "This treatment cannot be combined with nitrate medication.",
				}
			}
			return Result{CanPurchase: true}
		},
		"skincare": func(req Request) Result {
			if truthy(req.Responses["pregnant_or_nursing"]) {
				return Result{
					CanPurchase:  false,
					RedirectPath: "/consult/obstetrics",
					Message:      "Retinoid treatments are not suitable during pregnancy.",
				}
			}
			return Result{CanPurchase: true}
		},
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "yes") || strings.EqualFold(v, "true")
	default:
		return false
	}
}
