package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrTooEarly, http.StatusTooEarly},
		{domain.ErrLockHeld, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: rpc down", domain.ErrTransferFailed), http.StatusBadGateway},
		{fmt.Errorf("claims: send: %w: deadline", domain.ErrTransferUnknown), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
