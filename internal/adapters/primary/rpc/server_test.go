package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

func TestCodeFor_DomainTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{domain.ErrAccountNotFound, "NOT_FOUND"},
		{domain.ErrRequestNotFound, "NOT_FOUND"},
		{domain.ErrConversationNotFound, "NOT_FOUND"},
		{domain.ErrMessageNotFound, "NOT_FOUND"},
		{domain.ErrSelfRelation, "CONFLICT"},
		{domain.ErrRequestExists, "CONFLICT"},
		{domain.ErrAlreadyFriends, "CONFLICT"},
		{domain.ErrNotParticipant, "FORBIDDEN"},
		{domain.ErrEmptyMessage, "INVALID"},
		{domain.ErrMessageTooLong, "INVALID"},
		{errBadPayload, "INVALID"},
		{domain.ErrBlocked, "BLOCKED"},
		{errors.New("boom"), "INTERNAL"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, codeFor(tc.err), "err=%v", tc.err)
	}
}

func TestCodeFor_WrappedErrors(t *testing.T) {
	// Les adapters wrappent souvent avec fmt.Errorf : errors.Is doit suffire
	wrapped := fmt.Errorf("graph write: %w", domain.ErrAlreadyBlocked)
	assert.Equal(t, "CONFLICT", codeFor(wrapped))
}

func TestErrorResponse(t *testing.T) {
	resp := errorResponse(domain.ErrNotParticipant)
	assert.False(t, resp.OK)
	assert.Equal(t, "FORBIDDEN", resp.Code)
	assert.Equal(t, domain.ErrNotParticipant.Error(), resp.Error)
}
