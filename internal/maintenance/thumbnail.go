package maintenance

import (
	"context"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
)

const (
	tileWidth  = 320
	tileHeight = 180
	minVideoDuration = time.Second
)

// frameOffsets are the duration fractions the thumbnail generator samples
// (spec.md §4.7 "extract four frames at 10%, 30%, 50%, 70% of duration").
var frameOffsets = []float64{0.10, 0.30, 0.50, 0.70}

// RunThumbnails generates a 2x2 grid thumbnail for the newest
// ThumbnailBatchSize videos per channel that don't have one yet (spec.md
// §4.7 "Thumbnail generator").
func (m *Manager) RunThumbnails(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	batch := m.cfg.ThumbnailBatchSize
	if batch <= 0 {
		batch = 50
	}

	for _, channel := range channels {
		videos, err := m.store.VideosNeedingThumbnail(ctx, channel.ID, batch)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("list videos needing thumbnail failed")
			continue
		}
		for _, v := range videos {
			if err := m.generateThumbnail(ctx, channel.ID, v); err != nil {
				logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", v.ID).Err(err).Msg("thumbnail generation failed")
			}
		}
	}
	return nil
}

func (m *Manager) generateThumbnail(ctx context.Context, channelID int64, msg *models.Message) error {
	if msg.MediaPath == nil || *msg.MediaPath == "" {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return fmt.Errorf("message %d has no local media path", msg.ID)
	}

	mediaPath := filepath.Join(m.mediaRoot, *msg.MediaPath)

	duration, err := m.probe.Duration(ctx, mediaPath)
	if err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return fmt.Errorf("probe duration: %w", err)
	}
	if duration < minVideoDuration {
		metrics.ThumbnailsGenerated.WithLabelValues("too_short").Inc()
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "tgfeed-thumb-*")
	if err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tiles := make([]image.Image, len(frameOffsets))
	for i, frac := range frameOffsets {
		at := time.Duration(float64(duration) * frac)
		framePath := filepath.Join(tmpDir, fmt.Sprintf("frame_%d.jpg", i))
		if err := m.probe.ExtractFrame(ctx, mediaPath, at, framePath); err != nil {
			metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
			return fmt.Errorf("extract frame %d: %w", i, err)
		}
		img, err := decodeJPEG(framePath)
		if err != nil {
			metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
			return fmt.Errorf("decode frame %d: %w", i, err)
		}
		tiles[i] = img
	}

	grid := composeGrid(tiles)
	relDestPath := thumbnailPath(*msg.MediaPath)
	if err := writeJPEG(grid, filepath.Join(m.mediaRoot, relDestPath)); err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return fmt.Errorf("write grid: %w", err)
	}

	if err := m.store.SetVideoThumbnailPath(ctx, channelID, msg.ID, relDestPath); err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return fmt.Errorf("record thumbnail path: %w", err)
	}
	metrics.ThumbnailsGenerated.WithLabelValues("success").Inc()
	return nil
}

func thumbnailPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	base := mediaPath[:len(mediaPath)-len(ext)]
	return base + "_thumb.jpg"
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}

// composeGrid pads each tile to 320x180 preserving aspect ratio and stacks
// the four into a 640x360 2x2 grid (spec.md §4.7 "compose a 2x2 grid by
// padding each to 320x180 and stacking").
func composeGrid(tiles []image.Image) *image.RGBA {
	grid := image.NewRGBA(image.Rect(0, 0, tileWidth*2, tileHeight*2))
	stddraw.Draw(grid, grid.Bounds(), image.NewUniform(color.Black), image.Point{}, stddraw.Src)

	positions := []image.Point{
		{X: 0, Y: 0}, {X: tileWidth, Y: 0},
		{X: 0, Y: tileHeight}, {X: tileWidth, Y: tileHeight},
	}
	for i, tile := range tiles {
		if i >= len(positions) {
			break
		}
		padded := padToTile(tile)
		pos := positions[i]
		dstRect := image.Rect(pos.X, pos.Y, pos.X+tileWidth, pos.Y+tileHeight)
		stddraw.Draw(grid, dstRect, padded, image.Point{}, stddraw.Src)
	}
	return grid
}

// padToTile scales src to fit within a 320x180 box preserving aspect ratio,
// then centers it on a black 320x180 canvas.
func padToTile(src image.Image) image.Image {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return image.NewRGBA(image.Rect(0, 0, tileWidth, tileHeight))
	}

	scale := float64(tileWidth) / float64(sw)
	if alt := float64(tileHeight) / float64(sh); alt < scale {
		scale = alt
	}
	dw := int(float64(sw) * scale)
	dh := int(float64(sh) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, draw.Over, nil)

	canvas := image.NewRGBA(image.Rect(0, 0, tileWidth, tileHeight))
	stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, stddraw.Src)
	offX := (tileWidth - dw) / 2
	offY := (tileHeight - dh) / 2
	dstRect := image.Rect(offX, offY, offX+dw, offY+dh)
	stddraw.Draw(canvas, dstRect, scaled, image.Point{}, stddraw.Src)
	return canvas
}

func writeJPEG(img image.Image, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 85})
}
