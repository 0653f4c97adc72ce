package timeline

import (
	"testing"
	"time"

	"smsinbox/internal/models"
	"smsinbox/internal/realtime"
	"smsinbox/internal/testutil"
)

const convID = "c0a80101-0000-4000-8000-000000000001"

func confirmed(id, providerID, body string, status models.MessageStatus) *models.Message {
	m := testutil.NewTestMessage(convID, status, providerID)
	m.ID = id
	m.Body = body
	return m
}

func TestTimeline_ConfirmReplacesInPlace(t *testing.T) {
	history := []*models.Message{confirmed("m-0", "p-0", "earlier", models.MessageStatusDelivered)}
	tl := New(convID, history)

	tempID := tl.AddProvisional("+15550001111", "+15551234567", "Hello there")
	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 2)
	testutil.AssertEqual(t, entries[1].Message.Status, StatusSending)
	testutil.AssertEqual(t, tl.Pending(), 1)

	tl.Confirm(tempID, confirmed("m-1", "p-1", "Hello there", models.MessageStatusPending))

	entries = tl.Entries()
	testutil.AssertEqual(t, len(entries), 2)
	testutil.AssertEqual(t, entries[1].Message.ID, "m-1")
	testutil.AssertEqual(t, entries[1].Message.Status, models.MessageStatusPending)
	testutil.AssertEqual(t, tl.Pending(), 0)
}

func TestTimeline_FailRemovesAndRestoresText(t *testing.T) {
	tl := New(convID, nil)
	tempID := tl.AddProvisional("+15550001111", "+15551234567", "draft text")

	body, ok := tl.Fail(tempID)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, body, "draft text")
	testutil.AssertEqual(t, len(tl.Entries()), 0)

	_, ok = tl.Fail(tempID)
	testutil.AssertEqual(t, ok, false)
}

func TestTimeline_EventBeforeResponse(t *testing.T) {
	tl := New(convID, nil)
	tempID := tl.AddProvisional("+15550001111", "+15551234567", "Hello there")

	created := confirmed("m-1", "p-1", "Hello there", models.MessageStatusPending)
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, created))

	sent := confirmed("m-1", "p-1", "Hello there", models.MessageStatusSent)
	tl.Apply(realtime.NewMessageEvent(realtime.MessageUpdated, sent))

	tl.Confirm(tempID, created)

	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 1)
	testutil.AssertEqual(t, entries[0].Message.ID, "m-1")
	testutil.AssertEqual(t, entries[0].Message.Status, models.MessageStatusSent)
}

func TestTimeline_ResponseBeforeEvent(t *testing.T) {
	tl := New(convID, nil)
	tempID := tl.AddProvisional("+15550001111", "+15551234567", "Hello there")

	tl.Confirm(tempID, confirmed("m-1", "p-1", "Hello there", models.MessageStatusPending))
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, confirmed("m-1", "p-1", "Hello there", models.MessageStatusPending)))
	tl.Apply(realtime.NewMessageEvent(realtime.MessageUpdated, confirmed("m-1", "p-1", "Hello there", models.MessageStatusDelivered)))
	tl.Apply(realtime.NewMessageEvent(realtime.MessageUpdated, confirmed("m-1", "p-1", "Hello there", models.MessageStatusSent)))

	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 1)
	testutil.AssertEqual(t, entries[0].Message.Status, models.MessageStatusDelivered)
}

func TestTimeline_IdenticalConcurrentSends(t *testing.T) {
	tl := New(convID, nil)
	first := tl.AddProvisional("+15550001111", "+15551234567", "ok")
	second := tl.AddProvisional("+15550001111", "+15551234567", "ok")

	a := confirmed("m-a", "p-a", "ok", models.MessageStatusPending)
	b := confirmed("m-b", "p-b", "ok", models.MessageStatusPending)
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, a))
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, b))

	tl.Confirm(first, b)
	tl.Confirm(second, a)

	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 2)
	testutil.AssertEqual(t, tl.Pending(), 0)
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Message.ID] = true
	}
	testutil.AssertEqual(t, seen["m-a"] && seen["m-b"], true)
}

func TestTimeline_GatewayRejectionConfirmsAsFailed(t *testing.T) {
	tl := New(convID, nil)
	tempID := tl.AddProvisional("+15550001111", "+15551234567", "Hello")

	rejected := confirmed("m-1", "", "Hello", models.MessageStatusFailed)
	rejected.ErrorDetail = testutil.StringPtr("invalid destination")
	tl.Confirm(tempID, rejected)

	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 1)
	testutil.AssertEqual(t, entries[0].Message.Status, models.MessageStatusFailed)
}

func TestTimeline_IgnoresOtherConversations(t *testing.T) {
	tl := New(convID, nil)

	other := confirmed("m-x", "p-x", "elsewhere", models.MessageStatusReceived)
	other.ConversationID = "c0a80101-0000-4000-8000-000000000099"
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, other))

	inbound := confirmed("m-in", "p-in", "hi", models.MessageStatusReceived)
	inbound.Direction = models.DirectionInbound
	inbound.CreatedAt = time.Now()
	tl.Apply(realtime.NewMessageEvent(realtime.MessageCreated, inbound))

	entries := tl.Entries()
	testutil.AssertEqual(t, len(entries), 1)
	testutil.AssertEqual(t, entries[0].Message.ID, "m-in")
}
