package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/betcoon/internal/crypto"
)

// HeaderCaller carries the participant identity.
const HeaderCaller = crypto.HeaderCallerID

type callerKey struct{}

// CallerFrom returns the caller set by Identity.
func CallerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok && id != ""
}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Identity reads the caller from X-Caller-ID. When auth is non-nil the
// request must also carry a valid X-Caller-Timestamp and
// X-Caller-Signature over the method, path and body. Requests without a
// caller pass through anonymously.
func Identity(auth *crypto.CallerAuth, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := strings.TrimSpace(r.Header.Get(HeaderCaller))
			if caller == "" {
				next.ServeHTTP(w, r)
				return
			}

			if auth != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "unreadable body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				err = auth.Verify(caller,
					r.Header.Get(crypto.HeaderCallerTimestamp),
					r.Header.Get(crypto.HeaderCallerSignature),
					r.Method, r.URL.Path, string(body), now(),
				)
				if err != nil {
					writeJSONError(w, http.StatusUnauthorized, "invalid caller signature")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
