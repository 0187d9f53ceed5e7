package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const (
	spinnerTick    = 120 * time.Millisecond
	renderThrottle = 65 * time.Millisecond
)

// Terminal reports whether progress output on stderr would reach a person.
func Terminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Indicator is a byte counter or spinner on stderr. A disabled indicator
// accepts writes and does nothing. Stop may be called more than once.
type Indicator struct {
	bar *progressbar.ProgressBar

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Bytes shows a transfer of total bytes advanced by writes. Unknown sizes
// get a disabled indicator.
func Bytes(enabled bool, description string, total int64) *Indicator {
	if !enabled || total <= 0 {
		return &Indicator{}
	}
	return &Indicator{bar: progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(renderThrottle),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)}
}

// Spinner animates until Stop for work of unknown length.
func Spinner(enabled bool, description string) *Indicator {
	if !enabled {
		return &Indicator{}
	}

	ind := &Indicator{
		bar: progressbar.NewOptions(
			-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(80*time.Millisecond),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionClearOnFinish(),
		),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(ind.done)
		ticker := time.NewTicker(spinnerTick)
		defer ticker.Stop()
		for {
			select {
			case <-ind.stop:
				return
			case <-ticker.C:
				_ = ind.bar.Add(1)
			}
		}
	}()
	return ind
}

func (i *Indicator) Write(p []byte) (int, error) {
	if i.bar == nil {
		return len(p), nil
	}
	return i.bar.Write(p)
}

// Enabled reports whether anything is rendered.
func (i *Indicator) Enabled() bool {
	return i.bar != nil
}

func (i *Indicator) Stop() {
	i.stopOnce.Do(func() {
		if i.stop != nil {
			close(i.stop)
			<-i.done
		}
		if i.bar != nil {
			_ = i.bar.Finish()
		}
	})
}

var _ io.Writer = (*Indicator)(nil)
