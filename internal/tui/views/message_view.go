package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/brunakemp/juschat/internal/api"
)

// MessageView renders the active conversation's thread.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates the thread view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &MessageView{TextView: tv}
}

// SetConversationName updates the thread title.
func (mv *MessageView) SetConversationName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update redraws the thread. The view follows the newest message unless
// the user has scrolled up to read history.
func (mv *MessageView) Update(msgs []api.MessageView) {
	row, _ := mv.GetScrollOffset()
	_, _, _, height := mv.GetInnerRect()
	lines := mv.GetOriginalLineCount()
	atBottom := lines == 0 || row+height >= lines

	mv.Clear()
	for _, m := range msgs {
		sender := m.SenderName
		if m.FromMe {
			sender = "You"
		}
		if sender == "" {
			sender = m.SenderID
		}

		marker := ""
		switch {
		case m.Status == "failed":
			marker = " [red][failed - r to retry][-]"
		case m.Pending:
			marker = " [::d][sending...][-:-:-]"
		}

		ts := formatTimestamp(m.CreatedAt)
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n",
			tview.Escape(sender), ts, marker)
		if m.Body != "" {
			_, _ = fmt.Fprintf(mv, "%s\n", tview.Escape(sanitizeForTerminal(m.Body)))
		}
		for _, a := range m.Attachments {
			_, _ = fmt.Fprintf(mv, "[blue][file] %s (%s)[-]\n", tview.Escape(a.Name), formatBytes(a.Bytes))
		}
		_, _ = fmt.Fprint(mv, "\n")
	}

	if atBottom {
		mv.ScrollToEnd()
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
