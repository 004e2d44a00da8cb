package observer

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/vrsandeep/mailpulse/internal/progress"
	"github.com/vrsandeep/mailpulse/internal/render"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// PlainListener prints rows as they arrive and keeps a single progress bar
// on the last line. Used when stdout is not a terminal the TUI can own.
type PlainListener struct {
	out        io.Writer
	renderer   render.Renderer
	bar        *progressbar.ProgressBar
	lastNotice string
	lastState  stream.State
	header     bool
	done       chan struct{}
	finished   bool
}

// NewPlainListener writes to out using r for rows.
func NewPlainListener(out io.Writer, r render.Renderer) *PlainListener {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetDescription(render.InfoText(progress.Counters{})),
	)
	return &PlainListener{
		out:      out,
		renderer: r,
		bar:      bar,
		done:     make(chan struct{}),
	}
}

// Done is closed the first time a run reaches a terminal state.
func (p *PlainListener) Done() <-chan struct{} {
	return p.done
}

// OnUpdate implements Listener.
func (p *PlainListener) OnUpdate(u Update) {
	if u.State == stream.StateOpen && p.lastState != stream.StateOpen {
		p.bar.Reset()
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Starting a new fetch run")
	}
	p.lastState = u.State
	if len(u.Appended) > 0 {
		_ = p.bar.Clear()
		if !p.header {
			fmt.Fprintln(p.out, p.renderer.Header())
			p.header = true
		}
		for _, e := range u.Appended {
			fmt.Fprintln(p.out, p.renderer.Row(e))
		}
	}
	if u.Notice != "" && u.Notice != p.lastNotice {
		_ = p.bar.Clear()
		fmt.Fprintln(p.out, p.renderer.Notice(u.Notice))
	}
	p.lastNotice = u.Notice

	p.bar.Describe(render.InfoText(u.Counters))
	_ = p.bar.Set(int(u.Percent))

	if u.State.Terminal() && !p.finished {
		fmt.Fprintln(p.out)
		p.finished = true
		close(p.done)
	}
}
