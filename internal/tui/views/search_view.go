package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/brunakemp/juschat/internal/api"
)

// SearchView is the full-text search page.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []api.SearchResultView
}

// NewSearchView creates the search page.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Results ")

	sv := &SearchView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(input, 1, 0, true).
			AddItem(results, 0, 1, false),
		input:   input,
		results: results,
	}
	return sv
}

// SetOnQuery sets the submit callback.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.input.GetText())
		}
	})
}

// Update refreshes the result table.
func (sv *SearchView) Update(results []api.SearchResultView) {
	sv.data = results
	sv.results.Clear()

	headers := []string{" Conversation", " Snippet", " Time"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAttributes(tcell.AttrBold))
	}

	for i, r := range results {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(r.Message.ConversationID)).SetMaxWidth(25))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(r.Snippet))).SetExpansion(1))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(r.Message.CreatedAt)).SetMaxWidth(12))
	}
}

// SelectedResult returns the conversation and message id of the selected
// hit, or empty strings.
func (sv *SearchView) SelectedResult() (string, string) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].Message.ConversationID, sv.data[idx].Message.MsgID
	}
	return "", ""
}

// Input returns the query field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the result table for focus handling.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
