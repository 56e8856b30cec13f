package render

import (
	"fmt"
	"image"
	"io"
	"math"
	"strings"

	"github.com/fogleman/gg"

	"github.com/opd-ai/go-dronegym/pkg/reward"
)

// shadeColor maps a shade in [0, 1] onto gray, black to white
func shadeColor(shade float64) (float64, float64, float64) {
	s := math.Max(0, math.Min(1, shade))
	return s, s, s
}

// SweepImage draws one horizontal band per sample, lowest height at the
// bottom, in the gray level of the sample's shade. Returns nil for an empty sweep.
func SweepImage(samples []reward.Sample, width, height int) image.Image {
	dc := sweepContext(samples, width, height)
	if dc == nil {
		return nil
	}
	return dc.Image()
}

// SaveSweepPNG draws samples as SweepImage does and writes the PNG to path
func SaveSweepPNG(path string, samples []reward.Sample, width, height int) error {
	dc := sweepContext(samples, width, height)
	if dc == nil {
		return fmt.Errorf("empty sweep")
	}
	return dc.SavePNG(path)
}

func sweepContext(samples []reward.Sample, width, height int) *gg.Context {
	if len(samples) == 0 || width <= 0 || height <= 0 {
		return nil
	}
	dc := gg.NewContext(width, height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	band := float64(height) / float64(len(samples))
	for i, s := range samples {
		// samples run from low to high heights; image rows run top down
		y := float64(height) - float64(i+1)*band
		dc.DrawRectangle(0, y, float64(width), band)
		dc.SetRGB(shadeColor(s.Shade))
		dc.Fill()
	}
	return dc
}

// WriteSweep prints samples as text bars, highest height first. Each bar is
// barWidth characters at full shade.
func WriteSweep(w io.Writer, samples []reward.Sample, barWidth int) error {
	if barWidth < 1 {
		barWidth = 1
	}
	for i := len(samples) - 1; i >= 0; i-- {
		s := samples[i]
		n := int(math.Round(math.Max(0, math.Min(1, s.Shade)) * float64(barWidth)))
		_, err := fmt.Fprintf(w, "%+7.3f %+9.4f |%s%s|\n",
			s.Height, s.Reward, strings.Repeat("#", n), strings.Repeat(" ", barWidth-n))
		if err != nil {
			return err
		}
	}
	return nil
}
