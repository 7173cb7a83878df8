package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyEsc      = "esc"
	KeyPane1    = "1"
	KeyPane2    = "2"
	KeyPane3    = "3"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyJ        = "j"
	KeyK        = "k"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView(finished bool) string {
	help := "Tab: cycle focus | 1/2/3: jump to pane | j/k: select task | q: quit (cancels the run)"
	if finished {
		help = "Run finished | j/k: select task | q: quit"
	}
	return StyleHelp.Render(help)
}
