package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/brunakemp/juschat/internal/api"
)

// ConversationList is the directory table.
type ConversationList struct {
	*tview.Table
	conversations []api.ConversationView
}

// NewConversationList creates the directory table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table}
}

// Update refreshes the table from a directory snapshot.
func (cl *ConversationList) Update(conversations []api.ConversationView) {
	cl.conversations = conversations
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Contact").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, conv := range conversations {
		row := i + 1
		name := conv.ParticipantName
		if name == "" {
			name = conv.ParticipantID
		}
		if conv.ParticipantRole != "" {
			name = fmt.Sprintf("%s [%s]", name, conv.ParticipantRole)
		}
		if conv.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, conv.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetMaxWidth(32).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(conv.LastMessagePreview))).SetMaxWidth(48).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(conv.LastMessageAt)).SetMaxWidth(12))
	}
}

// Selected returns the highlighted conversation, or nil.
func (cl *ConversationList) Selected() *api.ConversationView {
	row, _ := cl.GetSelection()
	idx := row - 1 // header row
	if idx >= 0 && idx < len(cl.conversations) {
		return &cl.conversations[idx]
	}
	return nil
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
