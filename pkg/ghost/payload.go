package ghost

import (
	"encoding/json"

	"ghostd/internal/focus"
)

// Wire shapes for callback payloads. Field names are part of the host
// contract; subscribers over IPC see the same JSON.

type caretPayload struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Valid  bool `json:"valid"`
}

type pausePayload struct {
	Text        string       `json:"text"`
	ProcessName string       `json:"processName"`
	WindowTitle string       `json:"windowTitle"`
	Caret       caretPayload `json:"caret"`
}

type focusPayload struct {
	ProcessName string `json:"processName"`
	WindowTitle string `json:"windowTitle"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func marshalPause(ctx Context) string {
	p := pausePayload{
		Text:        ctx.Text,
		ProcessName: ctx.ProcessName,
		WindowTitle: ctx.WindowTitle,
		Caret: caretPayload{
			X:      ctx.Caret.X,
			Y:      ctx.Caret.Y,
			Width:  ctx.Caret.Width,
			Height: ctx.Caret.Height,
			Valid:  ctx.Caret.Valid,
		},
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func marshalFocus(ev focus.FocusEvent) string {
	b, _ := json.Marshal(focusPayload{
		ProcessName: ev.ProcessName,
		WindowTitle: ev.WindowTitle,
	})
	return string(b)
}

func marshalError(err error) string {
	b, _ := json.Marshal(errorPayload{Message: err.Error()})
	return string(b)
}
