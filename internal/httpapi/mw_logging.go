package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func AccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := GetRequestID(r.Context())

		reqLog := log.With().
			Str("rid", rid).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		reqLog.Debug().Str("query", r.URL.RawQuery).Msg("request started")

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		evt := reqLog.Info()
		if sw.status >= http.StatusInternalServerError {
			evt = reqLog.Error()
		}
		evt.
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Dur("dur", time.Since(start)).
			Msg("request completed")
	})
}
