package admin

import (
	"net/http"
	"strings"

	"github.com/bazaarhq/bazaar-backend/api/responses"
	"github.com/bazaarhq/bazaar-backend/api/validators"
	"github.com/bazaarhq/bazaar-backend/internal/revenue"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

// Revenue reports platform commission and seller payouts, optionally
// narrowed by ?currency=&from=&to=.
func Revenue(svc revenue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summary(r.Context(), revenue.Query{
			Currency: strings.TrimSpace(r.URL.Query().Get("currency")),
			From:     from,
			To:       to,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
