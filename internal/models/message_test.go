package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{MessageStatusPending, MessageStatusSent, true},
		{MessageStatusPending, MessageStatusDelivered, true},
		{MessageStatusPending, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusPending, false},
		{MessageStatusSent, MessageStatusSent, false},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusDelivered, MessageStatusFailed, false},
		{MessageStatusFailed, MessageStatusDelivered, false},
		{MessageStatusReceived, MessageStatusSent, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestAllowedSources(t *testing.T) {
	got := AllowedSources(MessageStatusDelivered)
	if len(got) != 2 || got[0] != MessageStatusPending || got[1] != MessageStatusSent {
		t.Errorf("AllowedSources(delivered) = %v", got)
	}

	if got := AllowedSources(MessageStatusReceived); len(got) != 0 {
		t.Errorf("received must not be reachable, got %v", got)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []MessageStatus{MessageStatusDelivered, MessageStatusFailed, MessageStatusReceived} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if MessageStatusPending.IsTerminal() || MessageStatusSent.IsTerminal() {
		t.Error("pending and sent must not be terminal")
	}
	if MessageStatus("sending").Valid() {
		t.Error("sending is a client-side status and must not be valid for storage")
	}
}
