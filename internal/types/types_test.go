package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"purchase", DirectionPurchase, false},
		{" SALES ", DirectionSales, false},
		{"inbound", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.False(t, JobStatusPartial.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	for _, s := range NonTerminalJobStatuses() {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestLocalStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to LocalStatus
		ok       bool
	}{
		{LocalStatusPending, LocalStatusApproved, true},
		{LocalStatusPending, LocalStatusRejected, true},
		{LocalStatusPending, LocalStatusImported, true},
		{LocalStatusApproved, LocalStatusImported, true},
		{LocalStatusApproved, LocalStatusRejected, false},
		{LocalStatusApproved, LocalStatusPending, false},
		{LocalStatusRejected, LocalStatusApproved, false},
		{LocalStatusRejected, LocalStatusImported, false},
		{LocalStatusImported, LocalStatusPending, false},
		{LocalStatusImported, LocalStatusApproved, false},
		{LocalStatusPending, LocalStatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
			got, err := tt.from.TransitionTo(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, got)
			} else {
				assert.Error(t, err)
				assert.Equal(t, tt.from, got)
			}
		})
	}
	assert.True(t, LocalStatusImported.IsTerminal())
	assert.True(t, LocalStatusRejected.IsTerminal())
	assert.False(t, LocalStatusPending.IsTerminal())
	assert.ElementsMatch(t, []LocalStatus{LocalStatusPending, LocalStatusApproved}, StatesFrom(LocalStatusImported))
}

func TestRemoteStatus(t *testing.T) {
	assert.True(t, RemoteStatusStorno.IsCancelled())
	assert.True(t, RemoteStatusCancelled.IsCancelled())
	assert.False(t, RemoteStatusSent.IsCancelled())

	assert.True(t, RemoteStatusSent.RequiresStorno())
	assert.True(t, RemoteStatusDelivered.RequiresStorno())
	assert.False(t, RemoteStatusNew.RequiresStorno())

	assert.Equal(t, RemoteStatusNew, DefaultRemoteStatus(DirectionPurchase))
	assert.Equal(t, RemoteStatusSent, DefaultRemoteStatus(DirectionSales))

	_, err := ParseRemoteStatus("archived")
	assert.Error(t, err)
	rs, err := ParseRemoteStatus("Approved")
	require.NoError(t, err)
	assert.Equal(t, RemoteStatusApproved, rs)
}
