package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veloramed/telehealth-backend/api/responses"
	"github.com/veloramed/telehealth-backend/api/validators"
	"github.com/veloramed/telehealth-backend/internal/recommendations"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
)

// Recommend runs the vertical's questionnaire rule and tells the storefront
// whether the shopper may buy or where to send them instead.
func Recommend(registry *recommendations.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registry == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recommendation registry unavailable"))
			return
		}

		var payload recommendations.Request
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := registry.Recommend(r.Context(), chi.URLParam(r, "vertical"), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// ListVerticals returns the health verticals with a registered rule.
func ListVerticals(registry *recommendations.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"verticals": registry.Verticals()})
	}
}
