package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	ev := PendingReviewEvent{PendingVerificationID: "pv-1", Confidence: 0.61, CreatedAt: time.Now().UTC()}
	msg, err := NewPendingReviewMessage(ev)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	got := <-msgs
	assert.Equal(t, TypePendingReview, got.Type)
	assert.Contains(t, string(got.Body), "pv-1")
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeAttendanceRecorded, Body: []byte(`{"attendance_id":"a1"}`)}
	out, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, out)
}

func TestDeserializeWithoutType(t *testing.T) {
	out, err := deserialize("no separator here")
	require.NoError(t, err)
	assert.Empty(t, out.Type)
	assert.Equal(t, "no separator here", string(out.Body))
}
