package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerDrawsAndStops(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	s := New(&out, spinner.Spinner{Frames: []string{"a", "b"}, FPS: time.Millisecond}, "probing 1/3")
	time.Sleep(5 * time.Millisecond)
	s.Update("probing 2/3")
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()

	got := out.String()
	if !strings.Contains(got, "probing 1/3") {
		t.Fatalf("output=%q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Fatalf("line not cleared: %q", got)
	}
}

func TestSpinnerPauseKeepsPromptVisible(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	s := New(&out, spinner.Spinner{Frames: []string{"a", "b"}, FPS: time.Millisecond}, "connecting")
	time.Sleep(5 * time.Millisecond)
	s.Pause()
	s.Pause()
	_, _ = out.Write([]byte("Switch? [y/N]: "))
	time.Sleep(10 * time.Millisecond)

	got := out.String()
	if !strings.HasSuffix(got, "\r\033[KSwitch? [y/N]: ") {
		t.Fatalf("prompt overdrawn: %q", got)
	}

	s.Resume()
	s.Stop()
	got = out.String()
	prompt := strings.Index(got, "Switch? [y/N]: ")
	if !strings.Contains(got[prompt:], "connecting") {
		t.Fatalf("not redrawn after Resume: %q", got)
	}
}

func TestNilSpinner(t *testing.T) {
	t.Parallel()

	var s *Spinner
	s.Update("x")
	s.Pause()
	s.Resume()
	s.Stop()
}
