package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{fmt.Errorf("staking: stake: %w: amount", ErrInvalidArgument), KindInvalidArgument},
		{fmt.Errorf("%w: FIN for 45 days", ErrNoStakingProgram), KindNotFound},
		{ErrPositionNotFound, KindNotFound},
		{ErrNotFound, KindNotFound},
		{fmt.Errorf("wrap: %w", ErrInsufficientBalance), KindConflict},
		{ErrPositionNotActive, KindConflict},
		{ErrUnauthorized, KindUnauthorized},
		{ErrRateLimited, KindRateLimited},
		{ErrLockHeld, KindInternal},
		{errors.New("connection reset"), KindInternal},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestPositionStatus(t *testing.T) {
	assert.False(t, PositionActive.Terminal())
	assert.True(t, PositionCompleted.Terminal())
	assert.True(t, PositionUnstakedEarly.Terminal())

	assert.True(t, StakingPosition{Status: PositionActive}.IsActive())
	assert.False(t, StakingPosition{Status: PositionCompleted}.IsActive())
}
