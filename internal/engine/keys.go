package engine

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// ListenKeys reads lines from r and queues a full rebuild for every empty
// line (ENTER) or "r". It returns when r is exhausted or ctx is cancelled.
// The reader goroutine may outlive ctx until r is closed.
func (e *Engine) ListenKeys(ctx context.Context, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.TrimSpace(line) {
			case "", "r":
				e.Rebuild(TriggerManual)
			default:
				e.logger.Info("Press ENTER to rebuild everything (or Ctrl+C to quit)")
			}
		}
	}
}
