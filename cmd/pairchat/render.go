package main

import (
	"fmt"
	"io"

	"github.com/vovakirdan/pairchat/pairchat"
)

// renderer prints each message once, plus a line whenever one of the
// user's own messages fails or recovers.
type renderer struct {
	self    string
	seen    map[string]pairchat.MessageStatus
	lastErr string
}

func newRenderer(self string) *renderer {
	return &renderer{self: self, seen: make(map[string]pairchat.MessageStatus)}
}

func (r *renderer) render(w io.Writer, msgs []pairchat.Message, fetchErr error) {
	errText := ""
	if fetchErr != nil {
		errText = fetchErr.Error()
	}
	if errText != r.lastErr {
		if errText != "" {
			fmt.Fprintf(w, "* history unavailable: %s\n", errText)
		}
		r.lastErr = errText
	}

	for _, m := range msgs {
		prev, ok := r.seen[m.ProvisionalID]
		r.seen[m.ProvisionalID] = m.Status
		switch {
		case !ok:
			fmt.Fprintln(w, formatLine(m))
			if m.Failed() {
				fmt.Fprintf(w, "! not delivered: %q (/resend to retry)\n", m.Body)
			}
		case prev != pairchat.StatusFailed && m.Failed():
			fmt.Fprintf(w, "! not delivered: %q (/resend to retry)\n", m.Body)
		case prev == pairchat.StatusFailed && m.Status == pairchat.StatusSent:
			fmt.Fprintf(w, "* delivered: %q\n", m.Body)
		}
	}
}

func formatLine(m pairchat.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.Sender, m.Body)
}
