package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// PlotType identifies the kind of plot a PlotData describes
type PlotType string

const (
	TrainingCurves PlotType = "training_curves"
	MetricCurves   PlotType = "metric_curves"
)

// PlotData is the JSON document understood by the plotting sidecar
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData is a single named line
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"`
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint is one (step, value) pair
type DataPoint struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel  string `json:"x_axis_label"`
	YAxisLabel  string `json:"y_axis_label"`
	XAxisScale  string `json:"x_axis_scale"`
	YAxisScale  string `json:"y_axis_scale"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interactive bool   `json:"interactive"`
}

// History records every scalar in memory and can render the curves as
// PlotData.
type History struct {
	mu        sync.Mutex
	modelName string
	// category -> series name -> points in arrival order
	series map[string]map[string][]DataPoint
}

// NewHistory creates an empty history
func NewHistory(modelName string) *History {
	return &History{
		modelName: modelName,
		series:    make(map[string]map[string][]DataPoint),
	}
}

func (h *History) AddScalars(_ context.Context, category string, values map[string]float64, step int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cat, ok := h.series[category]
	if !ok {
		cat = make(map[string][]DataPoint)
		h.series[category] = cat
	}
	for name, v := range values {
		cat[name] = append(cat[name], DataPoint{X: step, Y: v})
	}
	return nil
}

// Series returns a copy of the points recorded for category/name
func (h *History) Series(category, name string) []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.series[category][name]
	out := make([]DataPoint, len(points))
	copy(out, points)
	return out
}

// Last returns the most recent value recorded for category/name
func (h *History) Last(category, name string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.series[category][name]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Y, true
}

var palette = []string{"#FF6B6B", "#4ECDC4", "#FF9F43", "#5F27CD", "#10AC84", "#2E86DE"}

// Plot renders one category as line series sorted by name
func (h *History) Plot(category string) PlotData {
	h.mu.Lock()
	defer h.mu.Unlock()

	cat := h.series[category]
	names := make([]string, 0, len(cat))
	for name := range cat {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]SeriesData, 0, len(names))
	for i, name := range names {
		data := make([]DataPoint, len(cat[name]))
		copy(data, cat[name])
		series = append(series, SeriesData{
			Name: name,
			Type: "line",
			Data: data,
			Style: map[string]interface{}{
				"color":      palette[i%len(palette)],
				"line_width": 2,
			},
		})
	}

	plotType := MetricCurves
	yLabel := "Value"
	if category == "losses" {
		plotType = TrainingCurves
		yLabel = "Loss"
	}

	return PlotData{
		PlotType:  plotType,
		Title:     fmt.Sprintf("%s - %s", category, h.modelName),
		Timestamp: time.Now(),
		ModelName: h.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Epoch",
			YAxisLabel:  yLabel,
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       800,
			Height:      600,
			Interactive: true,
		},
	}
}

// Categories returns the recorded categories in name order
func (h *History) Categories() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	cats := make([]string, 0, len(h.series))
	for c := range h.series {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// ToJSON converts plot data to an indented JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// WriteJSON writes every category's plot to path as a JSON array
func (h *History) WriteJSON(path string) error {
	var plots []PlotData
	for _, c := range h.Categories() {
		plots = append(plots, h.Plot(c))
	}
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
