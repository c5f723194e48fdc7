package fit

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/store"
)

// Artifacts renders marks over the image and as a binary mask, PNG-encoded
func (img *Image) Artifacts(marks *mark.Collection) (overlay, mask []byte, err error) {
	overlay, err = encodePNG(energy.RenderOverlay(img.Reference, marks, energy.DefaultOverlayStyle()))
	if err != nil {
		return nil, nil, fmt.Errorf("overlay: %w", err)
	}
	dims := img.Stack.Dimensions()
	mask, err = encodePNG(energy.RenderMask(dims.X, dims.Y, marks))
	if err != nil {
		return nil, nil, fmt.Errorf("mask: %w", err)
	}
	return overlay, mask, nil
}

// MaskError is the mean squared difference between the rasterised marks and
// the image intensities
func (img *Image) MaskError(marks *mark.Collection) (float64, error) {
	dims := img.Stack.Dimensions()
	return energy.MaskError(img.Stack, energy.RenderMask(dims.X, dims.Y, marks))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Record converts the outcome to a persistable run record
func (o *Outcome) Record(runID string, cfg config.RunConfig) *store.RunRecord {
	return store.NewRunRecord(runID, o.Best.Marks(), o.Best.Score(), o.BestChain, o.Results[o.BestChain].Summary, cfg)
}

// Save persists the outcome and its overlay and mask images under runID.
// A failure to store the images is logged; the record itself must be saved.
func Save(st store.Store, runID string, cfg config.RunConfig, img *Image, outcome *Outcome, logger *slog.Logger) (*store.RunRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	record := outcome.Record(runID, cfg)
	if err := st.SaveRun(runID, record); err != nil {
		return nil, fmt.Errorf("save run %s: %w", runID, err)
	}

	overlay, mask, err := img.Artifacts(outcome.Best.Marks())
	if err != nil {
		logger.Warn("Failed to render run artifacts", "run_id", runID, "error", err)
		return record, nil
	}
	for name, data := range map[string][]byte{store.ArtifactOverlay: overlay, store.ArtifactMask: mask} {
		if err := st.SaveArtifact(runID, name, data); err != nil {
			logger.Warn("Failed to save run artifact", "run_id", runID, "artifact", name, "error", err)
		}
	}

	logger.Info("Run saved", "run_id", runID, "score", record.Score, "marks", len(record.Marks))
	return record, nil
}
