package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"media-converter/internal/apperror"
	"media-converter/internal/logging"
)

// AccountHeader carries the caller's account id. It is set by the
// authenticating proxy in front of the service.
const AccountHeader = "X-Account-ID"

type accountKey struct{}

var errNoAccount = errors.New("missing account")

func parseAccountID(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errNoAccount
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid account id")
	}
	return id, nil
}

// WithAccountID returns a context carrying the account id.
func WithAccountID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, accountKey{}, id)
}

// AccountID returns the account resolved by Account, if any.
func AccountID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountKey{}).(int64)
	return id, ok
}

// Account resolves the calling account from AccountHeader and rejects
// requests without a valid one.
func Account() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := parseAccountID(r.Header.Get(AccountHeader))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				if encErr := json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   err.Error(),
					"kind":    apperror.KindValidation,
				}); encErr != nil {
					logging.Error("failed to encode JSON response: %v", encErr)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), id)))
		})
	}
}
