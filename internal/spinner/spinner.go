package spinner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const interval = 80 * time.Millisecond

// Spinner animates a status line on a writer. The message can be changed while
// it runs.
type Spinner struct {
	w io.Writer

	mu    sync.Mutex
	msg   string
	width int

	done     chan struct{}
	cleared  chan struct{}
	stopOnce sync.Once
}

// Start displays an animated spinner with the given message on w.
// Call Stop to end it and clear the line.
func Start(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		msg:     message,
		done:    make(chan struct{}),
		cleared: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Update replaces the message shown next to the spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.msg = message
	s.mu.Unlock()
}

// Stop ends the animation and clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.cleared
}

func (s *Spinner) loop() {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.done:
			s.mu.Lock()
			fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width)) //nolint:errcheck
			s.mu.Unlock()
			close(s.cleared)
			return
		case <-ticker.C:
			s.mu.Lock()
			line := frames[i%len(frames)] + " " + s.msg
			// Pad over whatever a longer previous message left behind.
			pad := s.width - runewidth.StringWidth(line)
			if w := runewidth.StringWidth(line); w > s.width {
				s.width = w
			}
			if pad < 0 {
				pad = 0
			}
			fmt.Fprintf(s.w, "\r%s%s", line, strings.Repeat(" ", pad)) //nolint:errcheck
			s.mu.Unlock()
		}
	}
}
