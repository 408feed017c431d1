// Package batch drives a full analysis run over a data root: it discovers
// channels and images, normalises every channel of every image, computes
// CoV and cross-correlation maps and writes maps and figures.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"covcorr/internal/models"
	"covcorr/internal/utils"
	"covcorr/pkg/config"
	"covcorr/pkg/correlation"
	"covcorr/pkg/interpolation"
	"covcorr/pkg/normalize"
)

// StackLoader reads raw stacks. It is started once before the first image
// and stopped once after the last; Load may be called concurrently.
type StackLoader interface {
	Start() error
	Stop() error
	Load(path string) (models.Stack, error)
}

// ImageWriter stores maps without loss of precision, overwriting existing
// files
type ImageWriter interface {
	WriteMap(path string, m models.Map) error
	WritePages(path string, pages []models.Map) error
}

// ScatterRenderer draws x against y into <dir>/<title>.png
type ScatterRenderer interface {
	RenderScatter(x, y []float64, title, dir string) error
}

// Orchestrator runs one batch. It holds no per-image state; every image
// owns its stacks for the duration of its processing only.
type Orchestrator struct {
	cfg      config.RunConfig
	loader   StackLoader
	writer   ImageWriter
	renderer ScatterRenderer
	engine   *correlation.Engine
	log      *utils.Logger
}

// New creates an orchestrator. renderer may be nil, in which case no
// figures are produced; a nil logger discards output.
func New(cfg config.RunConfig, loader StackLoader, writer ImageWriter, renderer ScatterRenderer, logger *utils.Logger) *Orchestrator {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	if !cfg.Plots {
		renderer = nil
	}
	return &Orchestrator{
		cfg:      cfg,
		loader:   loader,
		writer:   writer,
		renderer: renderer,
		engine:   correlation.NewEngine(cfg.NumCores),
		log:      logger,
	}
}

// OutputDir returns the directory that receives the artifacts of image
func (o *Orchestrator) OutputDir(image string) string {
	return filepath.Join(o.cfg.OutputRoot, "corr_"+image)
}

// Discover lists the channel folders under the data root and the image
// files of the first channel folder, both sorted by name. Hidden entries
// are ignored.
func (o *Orchestrator) Discover() (channels, images []string, err error) {
	entries, err := os.ReadDir(o.cfg.DataFolder)
	if err != nil {
		return nil, nil, models.Wrap(models.KindConfiguration, "discover", err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			channels = append(channels, e.Name())
		}
	}
	if len(channels) == 0 {
		return nil, nil, models.Errorf(models.KindConfiguration, "discover",
			"no channel folders in %s", o.cfg.DataFolder)
	}

	files, err := os.ReadDir(filepath.Join(o.cfg.DataFolder, channels[0]))
	if err != nil {
		return nil, nil, models.Wrap(models.KindConfiguration, "discover", err)
	}
	for _, f := range files {
		if f.Type().IsRegular() && !strings.HasPrefix(f.Name(), ".") {
			images = append(images, f.Name())
		}
	}
	return channels, images, nil
}

// Run processes every image. Only configuration problems and a loader
// that fails to start are returned as errors; everything that goes wrong
// with a single image is reported in the summary. If ctx is cancelled, the
// images already started are finished, the rest are marked skipped and
// ctx.Err() is returned with the summary.
func (o *Orchestrator) Run(ctx context.Context) (summary *Summary, err error) {
	channels, images, err := o.Discover()
	if err != nil {
		return nil, err
	}
	if o.renderer != nil && len(channels) > 1 && !contains(channels, o.cfg.ReferenceChannel) {
		return nil, models.Errorf(models.KindConfiguration, "discover",
			"reference channel %q is not one of %v", o.cfg.ReferenceChannel, channels)
	}

	summary = &Summary{
		RunID:    uuid.NewString(),
		Channels: channels,
		Images:   make([]ImageResult, len(images)),
	}
	o.log.Info("run %s: %d channels %v, %d images, scale %.3g, max lag %d",
		summary.RunID, len(channels), channels, len(images), o.cfg.ScaleFactor, o.cfg.MaxLag)

	if err := o.loader.Start(); err != nil {
		return nil, models.Wrap(models.KindResourceLifecycle, "start loader", err)
	}
	defer func() {
		if stopErr := o.loader.Stop(); stopErr != nil {
			summary.StopErr = models.Wrap(models.KindResourceLifecycle, "stop loader", stopErr)
			o.log.Error("run %s: failed to stop loader: %v", summary.RunID, stopErr)
		}
	}()

	startTime := time.Now()
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, file := range images {
		name := imageName(file)
		if ctx.Err() != nil {
			summary.Images[i] = ImageResult{Image: name, Status: StatusSkipped, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			// A panic while processing one image fails only that image
			defer func() {
				if r := recover(); r != nil {
					res := ImageResult{Image: name, OutputDir: o.OutputDir(name)}
					summary.Images[i] = res.fail(o.log, models.Errorf(models.KindLoad,
						"image "+name, "processing aborted: %v", r))
				}
			}()
			if ctx.Err() != nil {
				summary.Images[i] = ImageResult{Image: name, Status: StatusSkipped, Err: ctx.Err()}
				return nil
			}
			summary.Images[i] = o.processImage(channels, file)
			return nil
		})
	}
	_ = g.Wait()

	summary.tally()
	summary.Duration = time.Since(startTime)
	o.log.Info("run %s: %d succeeded, %d partial, %d failed, %d skipped in %.2fs",
		summary.RunID, summary.Succeeded, summary.Partial, summary.Failed, summary.Skipped,
		summary.Duration.Seconds())

	return summary, ctx.Err()
}

// processImage runs the whole pipeline for one image file name
func (o *Orchestrator) processImage(channels []string, file string) ImageResult {
	res := ImageResult{Image: imageName(file), OutputDir: o.OutputDir(imageName(file))}
	o.log.Info("image %s: loading %d channels", res.Image, len(channels))

	set, err := o.buildChannelSet(channels, file, &res)
	if err != nil {
		return res.fail(o.log, err)
	}

	if err := os.MkdirAll(res.OutputDir, 0755); err != nil {
		return res.fail(o.log, models.Wrap(models.KindIOWrite, "create "+res.OutputDir, err))
	}

	// CoV per channel; the reference map is kept for the figures
	var refCoV *models.VariationMap
	for _, ch := range channels {
		cov := o.engine.CoefficientOfVariation(set.Stacks[ch])
		res.DegenerateCoV += cov.Degenerate
		path := filepath.Join(res.OutputDir, fmt.Sprintf("cov_%s_%s.tif", res.Image, ch))
		if err := o.writer.WriteMap(path, interpolation.Upscale(cov.Map, o.cfg.ScaleFactor)); err != nil {
			res.artifactFailed(o.log, err)
		} else {
			res.CoVMaps++
		}
		if ch == o.cfg.ReferenceChannel {
			refCoV = &cov
		}
	}

	pairs := models.Pairs(channels)
	for _, pair := range pairs {
		o.processPair(set, pair, refCoV, &res)
	}

	if res.DegenerateCoV+res.DegenerateCorr+res.DegenerateFrames > 0 {
		o.log.Warn("image %s: undefined values: %d normalisation frames, %d CoV pixels, %d correlation pixels",
			res.Image, res.DegenerateFrames, res.DegenerateCoV, res.DegenerateCorr)
	}
	if len(res.WriteErrors) > 0 {
		res.Status = StatusPartial
	} else {
		res.Status = StatusSucceeded
	}
	o.log.Info("image %s: %d CoV maps, %d correlation maps, %d figures written to %s",
		res.Image, res.CoVMaps, res.CorrMaps, res.Plots, res.OutputDir)
	return res
}

// buildChannelSet loads and normalises every channel of one image
func (o *Orchestrator) buildChannelSet(channels []string, file string, res *ImageResult) (*models.ChannelSet, error) {
	set := models.NewChannelSet(res.Image)
	for _, ch := range channels {
		path := filepath.Join(o.cfg.DataFolder, ch, file)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			return nil, models.Errorf(models.KindLoad, "channel "+ch,
				"channel folder has no file %s", file)
		}

		raw, err := o.loader.Load(path)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		stack, err := normalize.Normalize(raw, o.cfg.ScaleFactor)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		res.DegenerateFrames += stack.Degenerate
		set.Stacks[ch] = stack
		o.log.Debug("image %s: channel %s %dx%dx%d -> %dx%dx%d", res.Image, ch,
			raw.Frames, raw.Rows, raw.Cols, stack.Frames, stack.Rows, stack.Cols)
	}
	if err := set.Validate(); err != nil {
		return nil, models.Wrap(models.KindLoad, "channel set", err)
	}
	for _, ch := range channels[1:] {
		if set.Stacks[ch].Frames != set.Stacks[channels[0]].Frames {
			return nil, models.Errorf(models.KindLoad, "channel set",
				"channel %s has %d frames, %s has %d", ch, set.Stacks[ch].Frames,
				channels[0], set.Stacks[channels[0]].Frames)
		}
	}
	return set, nil
}

// processPair correlates one channel pair, writes the upscaled map and,
// for distinct channels, one figure per lag
func (o *Orchestrator) processPair(set *models.ChannelSet, pair models.ChannelPair, refCoV *models.VariationMap, res *ImageResult) {
	cm, err := o.engine.CrossCorrelate(set.Stacks[pair.First], set.Stacks[pair.Second], o.cfg.MaxLag)
	if err != nil {
		res.artifactFailed(o.log, fmt.Errorf("correlate %s: %w", pair, err))
		return
	}
	res.DegenerateCorr += cm.Degenerate

	large := make([]models.Map, len(cm.Lags))
	for k, lag := range cm.Lags {
		large[k] = interpolation.Upscale(lag, o.cfg.ScaleFactor)
	}
	path := filepath.Join(res.OutputDir, fmt.Sprintf("corr_%s_%s.tif", res.Image, pair))
	if err := o.writer.WritePages(path, large); err != nil {
		res.artifactFailed(o.log, err)
	} else {
		res.CorrMaps++
	}

	if pair.IsSelf() || o.renderer == nil || refCoV == nil {
		return
	}
	for k, lag := range cm.Lags {
		title := fmt.Sprintf("CoVA_CC_%s_%s_%d", res.Image, pair, k)
		if err := o.renderer.RenderScatter(refCoV.Data, lag.Data, title, res.OutputDir); err != nil {
			res.artifactFailed(o.log, err)
			continue
		}
		res.Plots++
	}
}

// imageName strips the extension from an image file name
func imageName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
