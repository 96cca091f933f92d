package pairchat

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func peerMsg(body string, sec int) Message {
	return Message{Sender: "u2", Body: body, CreatedAt: at(sec)}
}

func stored(id, sender, body string, sec int) Message {
	return Message{PersistedID: id, Sender: sender, Body: body, CreatedAt: at(sec)}
}

func bodies(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}

func assertSorted(t *testing.T, msgs []Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("sequence not sorted at %d: %v", i, bodies(msgs))
		}
	}
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestTimelineLiveEventsInsertedInOrder(t *testing.T) {
	live := []Message{peerMsg("a", 1), peerMsg("b", 10), peerMsg("c", 20), peerMsg("d", 30)}
	for _, perm := range permutations(len(live)) {
		tl := newTimeline("r1", "u1", 0)
		for _, i := range perm {
			tl.receiveLive(live[i], false)
		}
		got := tl.messages()
		if len(got) != 4 {
			t.Fatalf("perm %v: expected 4 entries, got %v", perm, bodies(got))
		}
		assertSorted(t, got)
		if fmt.Sprint(bodies(got)) != "[a b c d]" {
			t.Fatalf("perm %v: unexpected order %v", perm, bodies(got))
		}
	}
}

func TestTimelineHistoryAtAnyPointInLiveStream(t *testing.T) {
	history := []Message{stored("m1", "u2", "a", 1), stored("m3", "u2", "c", 20)}
	live := []Message{peerMsg("a", 1), peerMsg("b", 10), peerMsg("c", 20), peerMsg("d", 30)}

	for _, perm := range permutations(len(live)) {
		for cut := 0; cut <= len(perm); cut++ {
			tl := newTimeline("r1", "u1", 0)
			for _, i := range perm[:cut] {
				tl.receiveLive(live[i], false)
			}
			tl.resolveHistory(history)
			for _, i := range perm[cut:] {
				tl.receiveLive(live[i], false)
			}

			got := tl.messages()
			if fmt.Sprint(bodies(got)) != "[a b c d]" {
				t.Fatalf("perm %v cut %d: got %v", perm, cut, bodies(got))
			}
			if got[0].PersistedID != "m1" || got[2].PersistedID != "m3" {
				t.Fatalf("perm %v cut %d: history copies should win, got %+v", perm, cut, got)
			}
		}
	}
}

func TestTimelineDedupWindow(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.resolveHistory([]Message{stored("m1", "u2", "hi", 0)})

	if tl.receiveLive(peerMsg("hi", 4), false) {
		t.Fatalf("event within 5s of a matching entry must be dropped")
	}
	if !tl.receiveLive(peerMsg("hi", 6), false) {
		t.Fatalf("event outside the window is a new message")
	}
	if !tl.receiveLive(peerMsg("hello", 1), false) {
		t.Fatalf("different body is a new message")
	}
	if n := len(tl.messages()); n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
}

func TestTimelineClientIDMatchesAcrossAnyDelay(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	ev := peerMsg("hi", 0)
	ev.ProvisionalID = "c1"
	tl.receiveLive(ev, true)

	h := stored("m1", "u2", "hi", 30)
	h.ProvisionalID = "c1"
	tl.resolveHistory([]Message{h})

	got := tl.messages()
	if len(got) != 1 || got[0].PersistedID != "m1" {
		t.Fatalf("expected single persisted entry, got %+v", got)
	}
}

func TestTimelineDistinctClientIDsAreNotMerged(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	a, b := peerMsg("ok", 0), peerMsg("ok", 1)
	a.ProvisionalID, b.ProvisionalID = "c1", "c2"
	tl.receiveLive(a, true)
	tl.receiveLive(b, true)
	if n := len(tl.messages()); n != 2 {
		t.Fatalf("two keyed sends with the same body must both show, got %d", n)
	}
}

func TestTimelineSelfEchoDropped(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	if tl.receiveLive(Message{Sender: "u1", Body: "mine", CreatedAt: at(0)}, false) {
		t.Fatalf("own message must not be added from the live channel")
	}
	if len(tl.messages()) != 0 {
		t.Fatalf("expected empty sequence")
	}
}

func TestTimelineHistoryAbsorbsPendingLocal(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(0)})

	h := stored("m1", "u1", "hi", 0)
	h.ProvisionalID = "p1"
	tl.resolveHistory([]Message{h})

	got := tl.messages()
	if len(got) != 1 || got[0].ProvisionalID != "p1" || got[0].Status != StatusSent {
		t.Fatalf("history should absorb the pending entry, got %+v", got)
	}

	if !tl.reconcile("p1", Message{PersistedID: "m1"}, nil) {
		t.Fatalf("reconcile should find the absorbed entry")
	}
	if got := tl.messages(); len(got) != 1 || got[0].PersistedID != "m1" {
		t.Fatalf("expected one persisted entry, got %+v", got)
	}
}

func TestTimelineHistoryAbsorbsUnkeyedCopyOfLocal(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(0)})
	tl.resolveHistory([]Message{stored("m1", "u1", "hi", 1)})

	got := tl.messages()
	if len(got) != 1 || got[0].ProvisionalID != "p1" || got[0].PersistedID != "m1" {
		t.Fatalf("unexpected sequence %+v", got)
	}
}

func TestTimelineReconcileRemovesLateHistoryDuplicate(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(0)})
	// Server clock far ahead: content match fails, so both show for now.
	tl.resolveHistory([]Message{stored("m1", "u1", "hi", 60)})
	if n := len(tl.messages()); n != 2 {
		t.Fatalf("expected 2 entries before reconcile, got %d", n)
	}

	tl.reconcile("p1", Message{PersistedID: "m1"}, nil)
	got := tl.messages()
	if len(got) != 1 || got[0].ProvisionalID != "p1" || got[0].PersistedID != "m1" {
		t.Fatalf("local entry should remain as the only copy, got %+v", got)
	}
}

func TestTimelineFailedEntrySurvivesHistory(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.resolveHistory([]Message{stored("m0", "u2", "yo", 0)})
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(10)})
	tl.reconcile("p1", Message{}, ErrTransient)

	tl.resolveHistory([]Message{stored("m0", "u2", "yo", 0)})
	got := tl.messages()
	if len(got) != 2 || !got[1].Failed() {
		t.Fatalf("failed entry must stay after refetch, got %+v", got)
	}
}

func TestTimelineFailureAfterPersistedIgnored(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(0)})
	tl.reconcile("p1", Message{PersistedID: "m1"}, nil)
	if tl.reconcile("p1", Message{}, ErrTransient) {
		t.Fatalf("a persisted entry cannot become failed")
	}
}

func TestTimelineMarkPending(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "hi", CreatedAt: at(0)})

	if _, err := tl.markPending("p1"); CodeOf(err) != ErrorInvalidMessage {
		t.Fatalf("pending entry cannot be resent, got %v", err)
	}
	if _, err := tl.markPending("nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	tl.reconcile("p1", Message{}, ErrTransient)
	m, err := tl.markPending("p1")
	if err != nil {
		t.Fatalf("markPending: %v", err)
	}
	if m.Status != StatusPending || m.Body != "hi" {
		t.Fatalf("unexpected entry %+v", m)
	}
}

func TestTimelineLocalSendWithEarlierClockIsInsertedSorted(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.resolveHistory([]Message{stored("m1", "u2", "a", 0), stored("m2", "u2", "c", 20)})
	tl.addLocal(Message{ProvisionalID: "p1", Sender: "u1", Body: "b", CreatedAt: at(10)})
	if got := bodies(tl.messages()); fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestTimelineHistoryTieBreakByPersistedID(t *testing.T) {
	tl := newTimeline("r1", "u1", 0)
	tl.resolveHistory([]Message{stored("m2", "u2", "second", 0), stored("m1", "u2", "first", 0)})
	if got := bodies(tl.messages()); fmt.Sprint(got) != "[first second]" {
		t.Fatalf("unexpected order %v", got)
	}
}
