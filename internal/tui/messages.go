package tui

import "github.com/vrsandeep/mailpulse/internal/observer"

// Messages delivered to the bubbletea Update loop.

type updateMsg observer.Update

type startResultMsg struct {
	err error
}
