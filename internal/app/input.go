package app

import (
	"context"
	"sync"

	"github.com/eiannone/keyboard"
)

type inputEvent int

const (
	inputEventPrev inputEvent = iota
	inputEventNext
	inputEventSection
	inputEventGainUp
	inputEventGainDown
	inputEventMute
	inputEventSolo
	inputEventReset
	inputEventQuit
)

// keyEvent maps a key press to a UI event.
func keyEvent(char rune, key keyboard.Key) (inputEvent, bool) {
	switch key {
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return inputEventQuit, true
	case keyboard.KeyArrowLeft:
		return inputEventPrev, true
	case keyboard.KeyArrowRight:
		return inputEventNext, true
	case keyboard.KeyTab:
		return inputEventSection, true
	case keyboard.KeyArrowUp:
		return inputEventGainUp, true
	case keyboard.KeyArrowDown:
		return inputEventGainDown, true
	}
	switch char {
	case 'q', 'Q':
		return inputEventQuit, true
	case 'm', 'M':
		return inputEventMute, true
	case 's', 'S':
		return inputEventSolo, true
	case '0':
		return inputEventReset, true
	case 'h':
		return inputEventPrev, true
	case 'l':
		return inputEventNext, true
	case 'k', '+':
		return inputEventGainUp, true
	case 'j', '-':
		return inputEventGainDown, true
	}
	return 0, false
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Warn().Err(err).Msg("keyboard input disabled")
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := keyEvent(char, key)
			if !ok {
				continue
			}
			if evt == inputEventQuit {
				events <- evt
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}
