// Package progress draws a single-line spinner on an interactive terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var frameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)

// Spinner redraws its message on a ticker until stopped. A nil or inactive
// Spinner is safe to use.
type Spinner struct {
	out    io.Writer
	frames []string
	fps    time.Duration

	mu     sync.Mutex
	msg    string
	tick   int
	paused bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start begins spinning on f when it is a terminal. Otherwise the message is
// printed once and nothing else is drawn.
func Start(f *os.File, msg string) *Spinner {
	if !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(f, msg)
		return nil
	}
	return New(f, spinner.Dot, msg)
}

// New spins on any writer.
func New(w io.Writer, style spinner.Spinner, msg string) *Spinner {
	s := &Spinner{
		out:    w,
		frames: style.Frames,
		fps:    style.FPS,
		msg:    msg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.fps <= 0 {
		s.fps = 100 * time.Millisecond
	}
	go s.loop()
	return s
}

// Update replaces the message shown next to the spinner.
func (s *Spinner) Update(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.msg = msg
	s.mu.Unlock()
}

// Pause clears the line and suspends drawing until Resume, so that a prompt
// written to the same terminal stays visible.
func (s *Spinner) Pause() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		fmt.Fprint(s.out, "\r\033[K")
	}
}

// Resume redraws the spinner and continues drawing after Pause.
func (s *Spinner) Resume() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		s.render()
	}
}

// Stop clears the line and waits for the drawing goroutine to exit.
func (s *Spinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Spinner) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.fps)
	defer ticker.Stop()

	for i := 0; ; i++ {
		s.draw(i)
		select {
		case <-s.stop:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

func (s *Spinner) draw(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = i
	s.render()
}

// render draws the current frame. s.mu must be held.
func (s *Spinner) render() {
	if s.paused {
		return
	}
	frame := ""
	if len(s.frames) > 0 {
		frame = s.frames[s.tick%len(s.frames)]
	}
	fmt.Fprintf(s.out, "\r\033[K%s %s", frameStyle.Render(frame), s.msg)
}
