// Package workspace manages an on-disk mining workspace.
//
// A workspace is a directory holding the pixel geometry and two image
// caches:
//
//	<dir>/workspace.yaml   seconds and nodes per pixel
//	<dir>/img/             images built by extraction
//	<dir>/target/          time-shifted copies of target images
//
// The geometry is fixed at creation; every later command reads it back.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/orneryd/assocminer/pkg/config"
	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/image"
	"github.com/orneryd/assocminer/pkg/metrics"
)

const (
	imageDir  = "img"
	targetDir = "target"
)

// Options configures Open.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// MaxPixels bounds every image; 0 means unlimited.
	MaxPixels int
	// SyncWrites forces fsync after each image write.
	SyncWrites bool
}

// Workspace is an open workspace.
type Workspace struct {
	dir     string
	cfg     config.WorkspaceConfig
	log     *slog.Logger
	images  *image.Cache
	targets *image.Cache
}

// Info describes a workspace.
type Info struct {
	Dir     string
	Config  config.WorkspaceConfig
	Images  []string
	Targets []string
}

// Create initializes a new workspace in dir. dir must not exist.
func Create(dir string, spp int64, npp uint64) (*config.WorkspaceConfig, error) {
	cfg := config.WorkspaceConfig{
		SecondsPerPixel: spp,
		NodesPerPixel:   npp,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Order("create workspace", "%v", err)
	}

	if _, err := os.Stat(dir); err == nil {
		return nil, errs.Storage("create workspace", fmt.Errorf("%s already exists", dir))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Storage("create workspace", err)
	}

	for _, sub := range []string{imageDir, targetDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.Storage("create workspace", err)
		}
	}
	if err := cfg.Save(filepath.Join(dir, config.WorkspaceFile)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Open opens the workspace in dir and both of its image caches.
func Open(dir string, opts Options) (*Workspace, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg, err := config.LoadWorkspace(filepath.Join(dir, config.WorkspaceFile))
	if err != nil {
		return nil, err
	}

	cacheOpts := func(role string) image.Options {
		return image.Options{
			SyncWrites: opts.SyncWrites,
			MaxPixels:  opts.MaxPixels,
			Logger:     opts.Logger.With("cache", role),
			Metrics:    opts.Metrics,
		}
	}
	images, err := image.OpenCache(filepath.Join(dir, imageDir), cacheOpts(imageDir))
	if err != nil {
		return nil, err
	}
	targets, err := image.OpenCache(filepath.Join(dir, targetDir), cacheOpts(targetDir))
	if err != nil {
		images.Close()
		return nil, err
	}

	opts.Logger.Debug("workspace opened", "dir", dir,
		"seconds_per_pixel", cfg.SecondsPerPixel,
		"nodes_per_pixel", cfg.NodesPerPixel)
	return &Workspace{
		dir:     dir,
		cfg:     *cfg,
		log:     opts.Logger,
		images:  images,
		targets: targets,
	}, nil
}

// Config returns the pixel geometry.
func (w *Workspace) Config() config.WorkspaceConfig {
	return w.cfg
}

// Images returns the cache of extracted images.
func (w *Workspace) Images() *image.Cache {
	return w.images
}

// Targets returns the cache of shifted target images.
func (w *Workspace) Targets() *image.Cache {
	return w.targets
}

// Info lists the workspace contents.
func (w *Workspace) Info() (*Info, error) {
	imgs, err := w.images.Names()
	if err != nil {
		return nil, err
	}
	tgts, err := w.targets.Names()
	if err != nil {
		return nil, err
	}
	return &Info{Dir: w.dir, Config: w.cfg, Images: imgs, Targets: tgts}, nil
}

// LoadImages opens every extracted image, in name order. The caller
// must Release them.
func (w *Workspace) LoadImages() ([]*image.Image, error) {
	names, err := w.images.Names()
	if err != nil {
		return nil, err
	}
	imgs := make([]*image.Image, 0, len(names))
	for _, name := range names {
		img, err := w.images.Open(name, false)
		if err != nil {
			Release(imgs)
			return nil, err
		}
		imgs = append(imgs, img)
	}
	w.log.Info("images loaded", "images", len(imgs))
	return imgs, nil
}

// TargetName returns the target image name for a source image shifted by
// offset pixels, e.g. "ev9+2".
func TargetName(name string, offset int) string {
	return fmt.Sprintf("%s%+d", name, offset)
}

// PrepareTargets writes, for every named image, a copy shifted by offset
// pixels in time into the target cache, replacing any previous copy.
// Repeated names are prepared once. A name missing from the image cache
// fails with ErrNotFound. The caller must Release the returned images.
func (w *Workspace) PrepareTargets(names []string, offset int) ([]*image.Image, error) {
	spp := w.cfg.SecondsPerPixel
	if offset != 0 && (int64(offset) > math.MaxInt64/spp || int64(offset) < math.MinInt64/spp) {
		return nil, errs.Capacity("prepare targets", fmt.Errorf("offset %d pixels overflows", offset))
	}
	delta := int64(offset) * spp

	var out []*image.Image
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		tname := TargetName(name, offset)
		if _, dup := seen[tname]; dup {
			w.log.Warn("duplicate target skipped", "target", name)
			continue
		}
		seen[tname] = struct{}{}

		dst, err := w.shift(name, tname, delta)
		if err != nil {
			Release(out)
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func (w *Workspace) shift(name, tname string, delta int64) (*image.Image, error) {
	src, err := w.images.Open(name, false)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", name, err)
	}
	defer src.Put()

	dst, err := w.targets.Open(tname, true)
	if err != nil {
		return nil, err
	}
	if err := image.ShiftTime(src, delta, dst); err != nil {
		dst.Put()
		return nil, fmt.Errorf("target %q: %w", name, err)
	}
	if err := dst.Flush(); err != nil {
		dst.Put()
		return nil, err
	}
	w.log.Debug("target prepared", "target", tname, "pixels", dst.PixelCount(), "occurrences", dst.OccurrenceCount())
	return dst, nil
}

// Release drops one reference on each image, ignoring nils.
func Release(imgs []*image.Image) error {
	var errList []error
	for _, img := range imgs {
		if img == nil {
			continue
		}
		if err := img.Put(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Close flushes and closes both caches.
func (w *Workspace) Close() error {
	return errors.Join(w.images.Close(), w.targets.Close())
}
