package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-validation/internal/auth"
	"ms-validation/internal/logger"
	"ms-validation/internal/tickets/ticket_api"
	"ms-validation/internal/utils"
)

// NewRouter mounts the public health check and the token-protected
// validation API.
func NewRouter(handler *ticket_api.Handler, verifier auth.TokenVerifier, log *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		handler.RegisterRoutes(r)
	})
	log.Info("ROUTER", "Validation routes registered under /api/validation")

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), fmt.Sprint(time.Since(start).Round(time.Microsecond)))
		})
	}
}
