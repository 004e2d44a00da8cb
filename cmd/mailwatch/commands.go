package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/observer"
	"github.com/vrsandeep/mailpulse/internal/tui"
)

// TUICmd runs the interactive view.
type TUICmd struct {
	Start bool `help:"Start a fetch run as soon as the snapshot is shown"`
}

// Run loads the snapshot and hands the terminal to bubbletea until the user
// quits.
func (cmd *TUICmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listener := &tui.ProgramListener{}
	obs := s.observer(listener)
	model := tui.NewModel(ctx, obs, s.renderer, s.baseURL)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	listener.SetProgram(p)

	go obs.Run(ctx)
	go func() {
		if err := obs.LoadSnapshot(ctx); err != nil {
			s.logger.Warn("snapshot unavailable", zap.Error(err))
		}
		if cmd.Start {
			if err := obs.StartFetching(ctx); err != nil {
				s.logger.Warn("start fetching", zap.Error(err))
			}
		}
	}()

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// PlainCmd triggers one run and prints it without taking over the terminal.
type PlainCmd struct{}

// Run prints the snapshot, starts a run and returns once it completes or the
// stream closes.
func (cmd *PlainCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listener := observer.NewPlainListener(os.Stdout, s.renderer)
	obs := s.observer(listener)
	go obs.Run(ctx)

	if err := obs.LoadSnapshot(ctx); err != nil {
		s.logger.Warn("snapshot unavailable", zap.Error(err))
	}
	if err := obs.StartFetching(ctx); err != nil {
		return fmt.Errorf("start fetching: %w", err)
	}

	select {
	case <-listener.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}
