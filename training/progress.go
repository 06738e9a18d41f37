package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders a single-line progress bar
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	out         io.Writer
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar writing to stdout. A total of zero or
// less means the length is unknown.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		out:         os.Stdout,
		metrics:     make(map[string]float64),
	}
}

// SetOutput redirects rendering
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	if pb.total > 0 {
		pb.current = pb.total
	}
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	elapsed := time.Since(pb.startTime)

	var line string
	if pb.total > 0 {
		percentage := float64(pb.current) / float64(pb.total)
		if percentage > 1.0 {
			percentage = 1.0
		}
		filled := int(percentage * float64(pb.width))
		bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)
		line = fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s",
			pb.description, percentage*100, bar, pb.current, pb.total, formatDuration(elapsed))
	} else {
		line = fmt.Sprintf("\r%s: %d [%s", pb.description, pb.current, formatDuration(elapsed))
	}

	if pb.current > 0 && elapsed > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", float64(pb.current)/elapsed.Seconds())
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
