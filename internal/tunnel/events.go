package tunnel

import (
	"bufio"
	"io"
	"iter"
	"strings"
)

const (
	markerPeerInitiated = "Peer Connection Initiated"
	markerAddrV4        = "net_addr_v4_add"
	markerAddrV6        = "net_addr_v6_add"
	markerEstablished   = "Initialization Sequence Completed"
	markerFatal         = "Exiting due to fatal error"
	markerError         = "ERROR"
)

// ParseEvent classifies one line of OpenVPN output.
func ParseEvent(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	ev := Event{Kind: EventNone, Line: line}
	switch {
	case strings.Contains(line, markerFatal):
		ev.Kind = EventFatal
	case strings.Contains(line, markerEstablished):
		ev.Kind = EventEstablished
	case strings.Contains(line, markerPeerInitiated):
		ev.Kind = EventPeerInitiated
	case strings.Contains(line, markerAddrV4):
		ev.Kind = EventAddrV4
		ev.Addr = tokenAfter(line, markerAddrV4)
	case strings.Contains(line, markerAddrV6):
		ev.Kind = EventAddrV6
		ev.Addr = tokenAfter(line, markerAddrV6)
	case strings.Contains(line, markerError):
		ev.Kind = EventError
	}
	return ev
}

// tokenAfter returns the whitespace token following the one containing marker.
func tokenAfter(line, marker string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.Contains(f, marker) && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// Events yields the meaningful events of r, one per line, followed by a
// final EventClosed when r is exhausted. If r is a *bufio.Reader it is read
// directly, so the caller can keep consuming it after stopping early.
func Events(r io.Reader) iter.Seq[Event] {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return func(yield func(Event) bool) {
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				if ev := ParseEvent(line); ev.Kind != EventNone {
					if !yield(ev) {
						return
					}
				}
			}
			if err != nil {
				closed := Event{Kind: EventClosed}
				if err != io.EOF {
					closed.Line = err.Error()
				}
				yield(closed)
				return
			}
		}
	}
}
