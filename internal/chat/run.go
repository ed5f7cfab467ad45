package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/alfred/pkg/client"
)

// Run starts the chat program and a goroutine that forwards the control API
// event stream into it. It blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, 64)
	go func() {
		err := opts.API.StreamEvents(ctx, func(ev client.Event) error {
			select {
			case events <- eventMsg{ev: ev}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		select {
		case events <- streamClosedMsg{err: err}:
		case <-ctx.Done():
		}
	}()

	opts.Context = ctx
	opts.Events = events
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
