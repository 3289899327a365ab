package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Confirm asks a yes/no question. done receives true only for Yes or 'y';
// No, 'n' and Escape all answer false.
func Confirm(question string, done func(ok bool)) *tview.Modal {
	m := tview.NewModal().
		SetText(question).
		AddButtons([]string{"Yes", "No"}).
		SetDoneFunc(func(_ int, label string) { done(label == "Yes") })
	m.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch {
		case ev.Key() == tcell.KeyEscape, ev.Rune() == 'n':
			done(false)
		case ev.Rune() == 'y':
			done(true)
		default:
			return ev
		}
		return nil
	})
	return m
}
