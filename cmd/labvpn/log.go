package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/charmbracelet/lipgloss"
)

var (
	levelStyles = map[log.Level]lipgloss.Style{
		log.DebugLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		log.InfoLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		log.WarnLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		log.ErrorLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		log.FatalLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	fieldStyle = lipgloss.NewStyle().Faint(true)
)

// Handler prints one colored line per entry.
type Handler struct {
	mu sync.Mutex
	w  io.Writer
}

func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w}
}

func (h *Handler) HandleLog(e *log.Entry) error {
	style := levelStyles[e.Level]
	level := style.Render(fmt.Sprintf("%-5s", strings.ToUpper(e.Level.String())))

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.w, "%s %s", level, e.Message)
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(h.w, " %s", fieldStyle.Render(fmt.Sprintf("%s=%v", name, e.Fields.Get(name))))
	}
	fmt.Fprintln(h.w)
	return nil
}
