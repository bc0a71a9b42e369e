package message

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	deliverAt := time.Now().Add(time.Hour)
	msg := New([]byte(`{"k":"v"}`), "application/json", "billing", deliverAt, 7, map[string]string{"tenant": "acme"})

	require.NotEmpty(t, msg.ID)
	assert.Equal(t, "billing", msg.Destination)
	assert.Equal(t, []byte(`{"k":"v"}`), msg.Payload)
	assert.Equal(t, "application/json", msg.PayloadType)
	assert.Equal(t, 7, msg.Priority)
	assert.True(t, msg.DeliverAt.Equal(deliverAt))
	assert.Equal(t, msg.CreatedAt, msg.UpdatedAt)
	assert.Zero(t, msg.Tries)
	assert.Empty(t, msg.Errors)
	assert.Equal(t, "acme", msg.Metadata["tenant"])
}

func TestNewClampsPriority(t *testing.T) {
	cases := []struct {
		name string
		in   int
		want int
	}{
		{"below range", 0, MinPriority},
		{"negative", -3, MinPriority},
		{"in range", 5, 5},
		{"above range", 42, MaxPriority},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := New(nil, "", "dest", time.Now(), tc.in, nil)
			assert.Equal(t, tc.want, msg.Priority)
		})
	}
}

func TestFailBackoffGrowsQuadratically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := New(nil, "", "dest", base, 5, nil)

	msg.Fail(errors.New("first"))
	assert.Equal(t, 1, msg.Tries)
	assert.True(t, msg.DeliverAt.Equal(base.Add(1*time.Minute)))

	msg.Fail(errors.New("second"))
	assert.Equal(t, 2, msg.Tries)
	assert.True(t, msg.DeliverAt.Equal(base.Add(5*time.Minute)))

	msg.Fail(errors.New("third"))
	assert.Equal(t, 3, msg.Tries)
	assert.True(t, msg.DeliverAt.Equal(base.Add(14*time.Minute)))
}

func TestFailAppendsCauses(t *testing.T) {
	msg := New(nil, "", "dest", time.Now(), 5, nil)

	msg.Fail(errors.New("connection refused"))
	msg.Fail(errors.New("timeout"))

	assert.Contains(t, msg.Errors, "connection refused")
	assert.Contains(t, msg.Errors, "timeout")
	assert.True(t, msg.UpdatedAt.After(msg.CreatedAt) || msg.UpdatedAt.Equal(msg.CreatedAt))
}

func TestFailedMessagesReachTheStuckCeiling(t *testing.T) {
	msg := New(nil, "", "dest", time.Now(), 5, nil)

	for i := 0; i < MaxDeliveryTries; i++ {
		msg.Fail(errors.New("still failing"))
	}

	assert.GreaterOrEqual(t, msg.Tries, MaxDeliveryTries)
}
