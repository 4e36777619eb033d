package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/booking/domain"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    domain.BookingStatus
		to      domain.BookingStatus
		allowed bool
	}{
		{domain.StatusPending, domain.StatusConfirmed, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusPending, domain.StatusOngoing, false},
		{domain.StatusPending, domain.StatusCompleted, false},
		{domain.StatusConfirmed, domain.StatusOngoing, true},
		{domain.StatusConfirmed, domain.StatusCancelled, true},
		{domain.StatusConfirmed, domain.StatusPending, true},
		{domain.StatusConfirmed, domain.StatusCompleted, false},
		{domain.StatusOngoing, domain.StatusCompleted, true},
		{domain.StatusOngoing, domain.StatusCancelled, false},
		{domain.StatusOngoing, domain.StatusPending, false},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCancelled, domain.StatusPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, domain.StatusCompleted.Terminal())
	require.True(t, domain.StatusCancelled.Terminal())
	require.False(t, domain.StatusPending.Terminal())
	require.False(t, domain.StatusConfirmed.Terminal())
	require.False(t, domain.StatusOngoing.Terminal())
}
