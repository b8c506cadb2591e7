package events

import (
	"fmt"
	"io"
)

// WriteSSE writes one event in text/event-stream framing.
func WriteSSE(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, ev.Data)
	return err
}

func WriteKeepalive(w io.Writer) error {
	_, err := io.WriteString(w, ": keepalive\n\n")
	return err
}
