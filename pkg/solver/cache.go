package solver

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"envbme/internal/models"
	"envbme/pkg/covariance"
)

// ErrCacheInconsistency reports a cache key collision between
// non-identical inputs: the entry found under a key was produced by a
// different covariance model or observation set than the one requesting
// it. Returning such an entry would be a stale-cache correctness bug.
var ErrCacheInconsistency = errors.New("cache entry does not match request fingerprints")

// Key identifies a cached moment result. All three components are
// mandatory: the run name scopes a workflow, the model digest pins the
// fitted covariance model, and the input digest pins the observation set,
// solver options and target point. A hit is only valid when every
// component matches.
type Key struct {
	RunName     string `json:"runName"`
	ModelDigest string `json:"modelDigest"`
	InputDigest string `json:"inputDigest"`
}

// id derives the entry filename from the full key composition.
func (k Key) id() string {
	h := sha256.New()
	h.Write([]byte(k.RunName))
	h.Write([]byte{0})
	h.Write([]byte(k.ModelDigest))
	h.Write([]byte{0})
	h.Write([]byte(k.InputDigest))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Cache stores moment results between runs. Implementations must
// serialize writes per key: concurrent identical requests may compute
// redundantly but must never corrupt an entry. The solver owns no cache;
// the caller injects one (or none, disabling caching).
type Cache interface {
	// Get returns the entry stored under key, whether it existed, and
	// an error for unreadable or mismatched entries.
	Get(key Key) (*MomentResult, bool, error)

	// Put stores the entry under key, replacing any previous value.
	Put(key Key, result *MomentResult) error
}

// DiskCache persists entries as JSON files under dir/<runName>/<id>.json.
// Entries store their full key and are verified on read, so a filename
// collision between different fingerprints surfaces as
// ErrCacheInconsistency instead of a silently wrong result.
type DiskCache struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{dir: dir, locks: make(map[string]*sync.Mutex)}
}

type cacheEntry struct {
	Key    Key           `json:"key"`
	Result *MomentResult `json:"result"`
}

func (c *DiskCache) path(key Key) string {
	return filepath.Join(c.dir, key.RunName, key.id()+".json")
}

// keyLock returns the per-key mutex, creating it on first use.
func (c *DiskCache) keyLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

// Get implements Cache.
func (c *DiskCache) Get(key Key) (*MomentResult, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cache entry")
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, errors.Wrap(err, "decoding cache entry")
	}
	if entry.Key != key {
		return nil, false, errors.Wrapf(ErrCacheInconsistency,
			"entry %s was produced under a different key", key.id())
	}
	return entry.Result, true, nil
}

// Put implements Cache. The write is atomic: a temp file in the same
// directory renamed over the target, under the per-key lock.
func (c *DiskCache) Put(key Key, result *MomentResult) error {
	lock := c.keyLock(key.id())
	lock.Lock()
	defer lock.Unlock()

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	data, err := json.Marshal(cacheEntry{Key: key, Result: result})
	if err != nil {
		return errors.Wrap(err, "encoding cache entry")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return errors.Wrap(err, "creating cache temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing cache temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "renaming cache entry")
	}
	return nil
}

// MemoryCache is an in-process Cache, the substitute used by tests and
// short-lived workflows.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(key Key) (*MomentResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key.id()]
	if !ok {
		return nil, false, nil
	}
	if entry.Key != key {
		return nil, false, errors.Wrapf(ErrCacheInconsistency,
			"entry %s was produced under a different key", key.id())
	}
	return entry.Result, true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(key Key, result *MomentResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.id()] = cacheEntry{Key: key, Result: result}
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// digest building blocks. Fingerprints hash the exact float64 bit
// patterns, so identical inputs always produce identical keys and any
// upstream change invalidates them.

type digester struct {
	h [32]byte
	b []byte
}

func newDigester() *digester {
	return &digester{b: make([]byte, 0, 1024)}
}

func (d *digester) float(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	d.b = append(d.b, buf[:]...)
}

func (d *digester) floats(vs []float64) {
	d.int(len(vs))
	for _, v := range vs {
		d.float(v)
	}
}

func (d *digester) int(v int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	d.b = append(d.b, buf[:]...)
}

func (d *digester) str(s string) {
	d.int(len(s))
	d.b = append(d.b, s...)
}

func (d *digester) sum() string {
	d.h = sha256.Sum256(d.b)
	return hex.EncodeToString(d.h[:])
}

// modelDigest fingerprints a covariance model: family tag plus every
// parameter in a fixed order.
func modelDigest(m covariance.Model) string {
	d := newDigester()
	d.int(int(m.Family))
	p := m.Params
	d.float(p.Sill)
	d.float(p.SpatialRange)
	d.float(p.TemporalRange)
	d.float(p.Nugget)
	d.float(p.Interaction)
	d.float(p.AnisotropyRatio)
	d.float(p.AnisotropyAngle)
	return d.sum()
}

// dataDigest fingerprints the full observation set once per estimator.
func dataDigest(hard []models.HardObservation, soft []models.SoftObservation) string {
	d := newDigester()
	d.int(len(hard))
	for _, h := range hard {
		d.floats(h.Space)
		d.float(h.Time)
		d.float(h.Value)
	}
	d.int(len(soft))
	for _, s := range soft {
		d.floats(s.Space)
		d.float(s.Time)
		d.float(s.Mean)
		d.float(s.Variance)
		d.float(s.Lower)
		d.float(s.Upper)
		d.floats(s.Values)
		d.floats(s.Probs)
	}
	return d.sum()
}

// inputDigest combines the observation-set digest, the solver options and
// the target point into the per-call input fingerprint.
func inputDigest(data string, opts Options, target models.Point) string {
	d := newDigester()
	d.str(data)
	d.float(opts.Neighborhood.MaxSpatial)
	d.float(opts.Neighborhood.MaxTemporal)
	d.float(opts.Neighborhood.SpaceTimeRatio)
	d.int(opts.Neighborhood.MaxHard)
	d.int(opts.Neighborhood.MaxSoft)
	d.int(opts.Trend.SpatialOrder)
	d.int(opts.Trend.TemporalOrder)
	d.float(opts.Trend.TemporalPeriod)
	d.int(opts.QuadratureNodes)
	d.int(opts.MaxQuadratureNodes)
	d.int(opts.MaxSoftInIntegration)
	d.float(opts.Tolerance)
	d.int(opts.MaxIterations)
	d.float(opts.PointMassVariance)
	d.float(opts.CDFEpsilon)
	d.int(int(opts.Convention))
	d.floats(target.Space)
	d.float(target.Time)
	return d.sum()
}
