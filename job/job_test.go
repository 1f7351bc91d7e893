package job

import (
	"testing"
	"time"
)

func TestNewJob(t *testing.T) {
	j := NewJob("/tmp/a.wav", 3*time.Second, 7)
	if j.ID == "" {
		t.Error("expected generated id")
	}
	if j.Status != StatusPending {
		t.Errorf("expected pending, got %s", j.Status)
	}
	if j.Seq != 7 {
		t.Errorf("expected seq 7, got %d", j.Seq)
	}
	if j.CreatedAt.IsZero() {
		t.Error("expected creation timestamp")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusConverting.Active() || !StatusTranscribing.Active() {
		t.Error("converting and transcribing are active stages")
	}
	if StatusPending.Active() || StatusCompleted.Active() || StatusFailed.Active() {
		t.Error("pending and terminal states are not active")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("completed and failed are terminal")
	}
	if StatusPending.Terminal() || StatusTranscribing.Terminal() {
		t.Error("pending and transcribing are not terminal")
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConverting},
		{StatusPending, StatusFailed},
		{StatusConverting, StatusTranscribing},
		{StatusConverting, StatusCompleted},
		{StatusConverting, StatusFailed},
		{StatusTranscribing, StatusCompleted},
		{StatusTranscribing, StatusFailed},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusFailed},
	}
	for _, tr := range allowed {
		j := &Job{Status: tr.from}
		if err := j.Transition(tr.to); err != nil {
			t.Errorf("expected %s -> %s to be allowed: %v", tr.from, tr.to, err)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusTranscribing},
		{StatusPending, StatusCompleted},
		{StatusTranscribing, StatusPending},
		{StatusCompleted, StatusConverting},
		{StatusCompleted, StatusTranscribing},
	}
	for _, tr := range denied {
		j := &Job{Status: tr.from}
		if err := j.Transition(tr.to); err == nil {
			t.Errorf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}
