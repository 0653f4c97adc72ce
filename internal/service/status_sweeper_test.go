package service

import (
	"context"
	"testing"
	"time"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/internal/testutil"
	"smsinbox/pkg/logger"
)

func TestStatusSweeper_Sweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	conv := testutil.NewTestConversation("+15551234567")
	stuck := testutil.NewTestMessage(conv.ID, models.MessageStatusPending, "prov-a")
	stuck.UpdatedAt = old
	failing := testutil.NewTestMessage(conv.ID, models.MessageStatusSent, "prov-b")
	failing.ID = "d0a80101-0000-4000-8000-000000000002"
	failing.UpdatedAt = old
	unknown := testutil.NewTestMessage(conv.ID, models.MessageStatusPending, "prov-c")
	unknown.ID = "d0a80101-0000-4000-8000-000000000003"
	unknown.UpdatedAt = old
	fresh := testutil.NewTestMessage(conv.ID, models.MessageStatusPending, "prov-d")
	fresh.ID = "d0a80101-0000-4000-8000-000000000004"
	h.mem.Put(conv, stuck, failing, unknown, fresh)

	completed := time.Now().Add(-30 * time.Minute).UTC()
	h.gw.statuses["prov-a"] = &gateway.Status{MessageID: "prov-a", Status: "delivered", CompletedAt: &completed}
	h.gw.statuses["prov-b"] = &gateway.Status{MessageID: "prov-b", Status: "sending_failed", Errors: []string{"carrier rejected"}}
	h.gw.statuses["prov-d"] = &gateway.Status{MessageID: "prov-d", Status: "delivered"}

	sweeper := NewStatusSweeper(h.mem.Messages, h.gw, h.reconciler, 5*time.Minute, 10, logger.NewNop())
	result, err := sweeper.Sweep(ctx)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, result.Checked, 3)
	testutil.AssertEqual(t, result.Applied, 2)
	testutil.AssertEqual(t, result.Errors, 1)

	a, _ := h.mem.Messages.GetByProviderID(ctx, "prov-a")
	testutil.AssertEqual(t, a.Status, models.MessageStatusDelivered)
	testutil.AssertEqual(t, a.DeliveredAt.Equal(completed), true)

	b, _ := h.mem.Messages.GetByProviderID(ctx, "prov-b")
	testutil.AssertEqual(t, b.Status, models.MessageStatusFailed)
	testutil.AssertEqual(t, *b.ErrorDetail, "carrier rejected")

	d, _ := h.mem.Messages.GetByProviderID(ctx, "prov-d")
	testutil.AssertEqual(t, d.Status, models.MessageStatusPending)
}

func TestStatusSweeper_UnchangedMessageDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv := testutil.NewTestConversation("+15551234567")
	lingering := testutil.NewTestMessage(conv.ID, models.MessageStatusSent, "prov-a")
	lingering.UpdatedAt = time.Now().Add(-2 * time.Hour)
	waiting := testutil.NewTestMessage(conv.ID, models.MessageStatusPending, "prov-b")
	waiting.ID = "d0a80101-0000-4000-8000-000000000002"
	waiting.UpdatedAt = time.Now().Add(-time.Hour)
	h.mem.Put(conv, lingering, waiting)

	h.gw.statuses["prov-a"] = &gateway.Status{MessageID: "prov-a", Status: "sent"}
	h.gw.statuses["prov-b"] = &gateway.Status{MessageID: "prov-b", Status: "delivered"}

	sweeper := NewStatusSweeper(h.mem.Messages, h.gw, h.reconciler, 5*time.Minute, 1, logger.NewNop())

	first, err := sweeper.Sweep(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, first.Checked, 1)
	testutil.AssertEqual(t, first.Skipped, 1)

	second, err := sweeper.Sweep(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, second.Checked, 1)
	testutil.AssertEqual(t, second.Applied, 1)

	b, _ := h.mem.Messages.GetByProviderID(ctx, "prov-b")
	testutil.AssertEqual(t, b.Status, models.MessageStatusDelivered)

	third, err := sweeper.Sweep(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, third.Checked, 0)
	testutil.AssertEqual(t, h.mem.Calls("MarkStatusChecked"), 3)
}

func TestProviderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.MessageStatus
		ok   bool
	}{
		{"sent", models.MessageStatusSent, true},
		{"delivered", models.MessageStatusDelivered, true},
		{"delivery_failed", models.MessageStatusFailed, true},
		{"sending_failed", models.MessageStatusFailed, true},
		{"queued", "", false},
		{"delivery_unconfirmed", "", false},
	}

	for _, tt := range tests {
		got, ok := providerStatus(tt.in)
		testutil.AssertEqual(t, got, tt.want)
		testutil.AssertEqual(t, ok, tt.ok)
	}
}
