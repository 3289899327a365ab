package dialogs

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type DispatchResult struct {
	Target string
	Text   string
}

// DispatchDialog shows a form to nudge a town agent.
// onSubmit is called with the result; onCancel on Escape.
func DispatchDialog(defaultTarget string, onSubmit func(DispatchResult), onCancel func()) *tview.Form {
	form := tview.NewForm()
	form.SetBorder(true).SetTitle(" Dispatch ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	form.AddInputField("Target", defaultTarget, 30, nil, nil)
	form.AddInputField("Message", "", 50, nil, nil)

	form.AddButton("Send", func() {
		target := form.GetFormItemByLabel("Target").(*tview.InputField).GetText()
		text := form.GetFormItemByLabel("Message").(*tview.InputField).GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		onSubmit(DispatchResult{Target: strings.TrimSpace(target), Text: text})
	})
	form.AddButton("Cancel", onCancel)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})

	return form
}
