package image

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/orneryd/assocminer/pkg/cache"
	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/metrics"
	"github.com/orneryd/assocminer/pkg/pool"
)

var errClosed = errors.New("image cache closed")

// Options configures a Cache.
type Options struct {
	// Create allows a missing directory to be created.
	Create bool

	// InMemory runs BadgerDB in memory-only mode. Nothing is persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// MaxPixels bounds the number of distinct keys of every image opened
	// through the cache. 0 means unlimited.
	MaxPixels int

	// IdleSize is the number of unreferenced images kept in memory after
	// their last Put. Defaults to 256.
	IdleSize int

	// Logger receives cache and badger logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose forwards badger's info and debug output.
	Verbose bool

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Cache is a name-indexed, badger-backed image cache.
//
// Opening the same name twice while it is referenced yields the same
// *Image. Images whose last reference is dropped are flushed and parked in
// an idle LRU, so reopening them does not touch storage.
//
// Key Structure:
//   - Meta:  0x01 + name + 0x00 -> version + pixelCount + occurrenceCount + blake2b
//   - Pixel: 0x02 + name + 0x00 + sec + comp -> count
//
// Thread Safety:
//
//	Open, Put, Names and Close are safe for concurrent use. Writing to a
//	single Image is not; see Image.
type Cache struct {
	db      *badger.DB
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex // guards live and idle transitions
	live   map[string]*Image
	idle   *cache.LRU[string, *Image]
	group  singleflight.Group
	closed atomic.Bool
}

// OpenCache opens the image cache stored in dir.
//
// A missing dir fails with ErrNotFound unless opts.Create is set. A dir
// that cannot be created or opened fails with ErrStorage.
func OpenCache(dir string, opts Options) (*Cache, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if !opts.InMemory {
		fi, err := os.Stat(dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if !opts.Create {
				return nil, errs.NotFound("open cache", dir)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.Storage("open cache", err)
			}
		case err != nil:
			return nil, errs.Storage("open cache", err)
		case !fi.IsDir():
			return nil, errs.Storage("open cache", fmt.Errorf("%s is not a directory", dir))
		}
	} else {
		dir = ""
	}

	badgerOpts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(log, opts.Verbose))
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Image caches are small and numerous (one per workspace role), so the
	// memory footprint is kept low.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errs.Storage("open cache", fmt.Errorf("failed to open BadgerDB: %w", err))
	}

	c := &Cache{
		db:      db,
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		live:    make(map[string]*Image),
	}
	c.idle = cache.NewLRU[string, *Image](opts.IdleSize, func(name string, _ *Image) {
		log.Debug("image evicted from idle set", "image", name)
	})
	return c, nil
}

// OpenCacheInMemory creates a cache backed by an in-memory badger.
func OpenCacheInMemory(opts Options) (*Cache, error) {
	opts.InMemory = true
	return OpenCache("", opts)
}

// Open returns the image called name, creating it when create is set.
// A missing image without create fails with ErrNotFound.
func (c *Cache) Open(name string, create bool) (*Image, error) {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return nil, errs.Order("open image", "invalid image name %q", name)
	}
	if c.closed.Load() {
		return nil, errs.Storage("open image", errClosed)
	}

	c.mu.Lock()
	img, ok := c.acquireLocked(name)
	c.mu.Unlock()
	if ok {
		return img, nil
	}

	// Concurrent first opens of one name share a single load. The create
	// flag is part of the key so a lookup never borrows a failed
	// non-creating load.
	key := name
	if create {
		key += "\x00create"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(name, create)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.acquireLocked(name); ok {
		return img, nil
	}
	img = v.(*Image)
	img.mu.Lock()
	img.refs = 1
	img.mu.Unlock()
	c.live[name] = img
	return img, nil
}

// acquireLocked takes a reference on an image already in memory.
func (c *Cache) acquireLocked(name string) (*Image, bool) {
	if img, ok := c.live[name]; ok {
		return img.Get(), true
	}
	if img, ok := c.idle.Take(name); ok {
		img.mu.Lock()
		img.refs = 1
		img.mu.Unlock()
		c.live[name] = img
		return img, true
	}
	return nil, false
}

func (c *Cache) load(name string, create bool) (*Image, error) {
	img := &Image{name: name, maxPixels: c.opts.MaxPixels, cache: c}
	found := true

	key := appendMetaKey(pool.GetByteBuffer(), name)
	defer pool.PutByteBuffer(key)

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		var meta imageMeta
		if err := item.Value(func(v []byte) error {
			var derr error
			meta, derr = decodeMeta(v)
			return derr
		}); err != nil {
			return err
		}

		prefix := pixelPrefix(name)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		img.pix = make([]Pixel, 0, min(meta.pixels, 1<<20))
		sum := newChecksummer()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k, err := decodePixelKey(item.Key(), len(prefix))
			if err != nil {
				return err
			}
			var count uint64
			if err := item.Value(func(v []byte) error {
				var derr error
				count, derr = decodeCount(v)
				return derr
			}); err != nil {
				return err
			}
			p := Pixel{Sec: k.Sec, Comp: k.Comp, Count: count}
			img.pix = append(img.pix, p)
			img.occ += count
			sum.add(p)
		}

		if uint64(len(img.pix)) != meta.pixels || img.occ != meta.occ || sum.sum() != meta.checksum {
			return fmt.Errorf("%w: %q checksum mismatch", errCorrupt, name)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("load image", err)
	}

	if found {
		c.log.Debug("image loaded", "image", name, "pixels", len(img.pix), "occurrences", img.occ)
		return img, nil
	}
	if !create {
		return nil, errs.NotFound("open image", name)
	}

	// Register the empty image so it is listed by Names before its first
	// flush.
	meta := imageMeta{checksum: newChecksummer().sum()}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(name), meta.encode())
	}); err != nil {
		return nil, errs.Storage("create image", err)
	}
	c.log.Debug("image created", "image", name)
	return img, nil
}

// release drops one reference on img; at zero the image is flushed and
// parked in the idle set. The cache lock is held across the flush so a
// concurrent Open never loads a stale copy.
func (c *Cache) release(img *Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	img.mu.Lock()
	if img.refs <= 0 {
		img.mu.Unlock()
		return errs.Order("put image", "image %q released more often than opened", img.name)
	}
	img.refs--
	last := img.refs == 0
	img.mu.Unlock()
	if !last {
		return nil
	}

	if c.closed.Load() {
		delete(c.live, img.name)
		return nil
	}
	if err := c.flush(img); err != nil {
		// A dirty image stays live so a later Open, Flush or Close retries
		// the write; only clean images may be evicted from the idle set.
		c.log.Error("image flush failed", "image", img.name, "error", err)
		return err
	}
	delete(c.live, img.name)
	c.idle.Put(img.name, img)
	return nil
}

func (c *Cache) flush(img *Image) error {
	img.mu.Lock()
	dirty := img.dirty
	img.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := c.write(img); err != nil {
		return errs.Storage("flush image", fmt.Errorf("%q: %w", img.name, err))
	}

	img.mu.Lock()
	img.dirty = false
	img.mu.Unlock()
	c.metrics.Flushed()
	c.log.Debug("image flushed", "image", img.name, "pixels", len(img.pix))
	return nil
}

// write replaces the persisted rows of img with its in-memory pixels.
func (c *Cache) write(img *Image) error {
	prefix := pixelPrefix(img.name)

	// Persisted rows that no longer exist in memory. Both sides are in
	// (Sec, Comp) order, so a single merge pass finds them.
	var stale [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		j := 0
		for it.Rewind(); it.Valid(); it.Next() {
			k, err := decodePixelKey(it.Item().Key(), len(prefix))
			if err != nil {
				return err
			}
			for j < len(img.pix) && img.pix[j].Key().Less(k) {
				j++
			}
			if j < len(img.pix) && img.pix[j].Key() == k {
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}

	sum := newChecksummer()
	for _, p := range img.pix {
		sum.add(p)
		key := appendPixelKey(append(make([]byte, 0, len(prefix)+16), prefix...), p.Key())
		if err := wb.Set(key, encodeCount(p.Count)); err != nil {
			return err
		}
	}

	meta := imageMeta{pixels: uint64(len(img.pix)), occ: img.occ, checksum: sum.sum()}
	if err := wb.Set(metaKey(img.name), meta.encode()); err != nil {
		return err
	}
	return wb.Flush()
}

// Flush persists every referenced dirty image.
func (c *Cache) Flush() error {
	if c.closed.Load() {
		return errs.Storage("flush cache", errClosed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var errList []error
	for _, img := range c.live {
		if err := c.flush(img); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Names returns the sorted names of all stored images.
func (c *Cache) Names() ([]string, error) {
	var names []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixMeta}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) < 3 {
				continue
			}
			names = append(names, string(k[1:len(k)-1]))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("list images", err)
	}
	return names, nil
}

// Len returns the number of stored images.
func (c *Cache) Len() (int, error) {
	names, err := c.Names()
	return len(names), err
}

// IdleStats reports hit statistics of the idle set.
func (c *Cache) IdleStats() cache.Stats {
	return c.idle.Stats()
}

// Close flushes every referenced image and closes storage. Handles still
// held by callers stay readable in memory.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	var errList []error
	for _, img := range c.live {
		if err := c.flush(img); err != nil {
			errList = append(errList, err)
		}
	}
	c.idle.Clear()

	if err := c.db.Close(); err != nil {
		errList = append(errList, errs.Storage("close cache", err))
	}
	return errors.Join(errList...)
}
