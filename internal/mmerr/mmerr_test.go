package mmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_KindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantKind Kind
		wantOK   bool
	}{
		{
			name:     "direct",
			err:      SymbolNotFound("parse_expr"),
			wantKind: KindSymbolNotFound,
			wantOK:   true,
		},
		{
			name:     "wrapped one level",
			err:      fmt.Errorf("during launch: %w", BackendUnresponsive("continue", errors.New("timeout"))),
			wantKind: KindBackendUnresponsive,
			wantOK:   true,
		},
		{
			name:     "not one of ours",
			err:      errors.New("plain error"),
			wantKind: "",
			wantOK:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := KindOf(tc.err)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantKind, kind)
		})
	}
}

func Test_BackendUnresponsive_unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := BackendUnresponsive("continue_until_stop", cause)
	assert.ErrorIs(t, err, cause)
}
