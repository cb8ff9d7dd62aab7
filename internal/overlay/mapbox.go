// Package overlay maps detection boxes from source-video pixel space onto
// the displayed surface, preserving aspect ratio (letterbox/pillarbox fit).
package overlay

import "video-quiz-engine/internal/domain"

// MapBox projects sourceBox from a sourceWidth x sourceHeight frame onto a
// displayWidth x displayHeight surface using a uniform min-scale fit with
// centering offsets. It returns ok=false when the surface has no measured
// size or the input is degenerate; callers must render nothing in that case.
func MapBox(sourceBox domain.Box, sourceWidth, sourceHeight, displayWidth, displayHeight float64) (domain.Box, bool) {
	if displayWidth <= 0 || displayHeight <= 0 {
		return domain.Box{}, false
	}
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return domain.Box{}, false
	}
	if sourceBox[2] < sourceBox[0] || sourceBox[3] < sourceBox[1] {
		return domain.Box{}, false
	}

	scale := displayWidth / sourceWidth
	if s := displayHeight / sourceHeight; s < scale {
		scale = s
	}
	offsetX := (displayWidth - sourceWidth*scale) / 2
	offsetY := (displayHeight - sourceHeight*scale) / 2

	return domain.Box{
		offsetX + sourceBox[0]*scale,
		offsetY + sourceBox[1]*scale,
		offsetX + sourceBox[2]*scale,
		offsetY + sourceBox[3]*scale,
	}, true
}

// MapRegion maps a detection region using the frame dimensions it was
// produced against. Regions missing source dimensions cannot be placed.
func MapRegion(region domain.DetectionRegion, displayWidth, displayHeight float64) (domain.Box, bool) {
	return MapBox(region.Box, region.SourceWidth, region.SourceHeight, displayWidth, displayHeight)
}
