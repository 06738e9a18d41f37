package training

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgressBar(t *testing.T) {
	t.Run("Known total", func(t *testing.T) {
		var buf bytes.Buffer
		pb := NewProgressBar("Validation epoch 1", 4)
		pb.SetOutput(&buf)

		pb.Update(2, map[string]float64{"loss": -0.75, "dice": 0.5})
		out := buf.String()
		if !strings.Contains(out, " 50%") {
			t.Errorf("expected 50%% in %q", out)
		}
		if !strings.Contains(out, "2/4") {
			t.Errorf("expected 2/4 in %q", out)
		}
		if strings.Index(out, "dice=") > strings.Index(out, "loss=") {
			t.Errorf("metrics should be sorted: %q", out)
		}

		pb.Finish()
		if !strings.HasSuffix(buf.String(), "\n") {
			t.Error("Finish should end the line")
		}
		if !strings.Contains(buf.String(), "4/4") {
			t.Error("Finish should render the full bar")
		}
	})

	t.Run("Unknown total", func(t *testing.T) {
		var buf bytes.Buffer
		pb := NewProgressBar("Validation", 0)
		pb.SetOutput(&buf)
		pb.Update(3, nil)
		if !strings.Contains(buf.String(), "Validation: 3 [") {
			t.Errorf("unexpected rendering %q", buf.String())
		}
		if strings.Contains(buf.String(), "%") {
			t.Errorf("no percentage without a total: %q", buf.String())
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{12*time.Minute + 5*time.Second, "12:05"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.d, got, tt.expected)
		}
	}
}
