package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/cache"
	"github.com/charlesh97/bomhelper/internal/keyword"
	"github.com/charlesh97/bomhelper/internal/rank"
	"github.com/charlesh97/bomhelper/internal/sse"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

// Searcher is the vendor search provider as the session sees it: an opaque,
// slow, possibly failing remote call.
type Searcher interface {
	Search(ctx context.Context, mpn, keyword string, inStockOnly, activeOnly bool) ([]vendor.Part, error)
}

// SearchOutcome is the immutable payload a background search hands back to
// the coordinating loop. Outcomes are tagged with the originating part key
// and a per-part generation so a superseded search can never be attributed
// to the wrong part or overwrite a newer search.
type SearchOutcome struct {
	Key        string
	Generation uint64
	Keyword    string
	Results    []vendor.Part
	Err        error
}

// Coordinator owns the single mutable Session. All mutations happen on the
// caller's goroutine under the lock or in the merge loop draining the
// results channel; background searches only produce immutable outcomes.
type Coordinator struct {
	mu      sync.Mutex
	session *Session

	searcher Searcher
	keywords keyword.Source
	cache    *cache.SearchCache
	hub      *sse.Hub
	log      *zap.Logger

	results     chan SearchOutcome
	done        chan struct{}
	closeOnce   sync.Once
	generations map[string]uint64
}

func NewCoordinator(searcher Searcher, keywords keyword.Source, searchCache *cache.SearchCache, hub *sse.Hub, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		searcher:    searcher,
		keywords:    keywords,
		cache:       searchCache,
		hub:         hub,
		log:         logger,
		results:     make(chan SearchOutcome, 64),
		done:        make(chan struct{}),
		generations: make(map[string]uint64),
	}
	go c.run()
	return c
}

// Close stops the merge loop. In-flight searches finish but their outcomes
// are dropped.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// run drains search outcomes and merges them into the session, discarding
// stale generations.
func (c *Coordinator) run() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.results:
			c.merge(out)
		}
	}
}

func (c *Coordinator) merge(out SearchOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	if out.Generation != c.generations[out.Key] {
		c.log.Info("Discarding stale search result",
			zap.String("part_key", out.Key),
			zap.Uint64("generation", out.Generation),
			zap.Uint64("current", c.generations[out.Key]))
		return
	}

	sel := c.session.Selection(out.Key)
	if sel == nil {
		return
	}
	if out.Keyword != "" {
		sel.LastKeyword = out.Keyword
	}

	results := out.Results
	if out.Err != nil {
		// Provider failures surface as an empty reviewing state; the user
		// retries with another keyword.
		c.log.Error("Search failed",
			zap.String("part_key", out.Key),
			zap.String("keyword", out.Keyword),
			zap.Error(out.Err))
		results = nil
	}

	part := c.session.Part(out.Key)
	target := ""
	if part != nil {
		target = part.Field("package")
	}
	ranked := rank.Rank(results, target, c.session.Options.SortPreference)

	if err := c.session.ApplyResults(out.Key, ranked); err != nil {
		c.log.Warn("Dropping result for vanished part", zap.String("part_key", out.Key))
		return
	}
	c.hub.PublishSearchComplete(out.Key, len(ranked), out.Err != nil)
}

func (c *Coordinator) deliver(out SearchOutcome) {
	select {
	case c.results <- out:
	case <-c.done:
	}
}

// LoadSession replaces the working session with a freshly consolidated BOM.
func (c *Coordinator) LoadSession(parts []*bom.ConsolidatedPart, rows []bom.RawRow, columns bom.ColumnMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = New(parts, rows, columns)
	c.generations = make(map[string]uint64)
	c.log.Info("Session loaded",
		zap.Int("raw_rows", len(rows)),
		zap.Int("consolidated_parts", len(parts)))
}

// RestoreSession installs a session reconstructed from a snapshot.
func (c *Coordinator) RestoreSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Reindex()
	c.session = s
	c.generations = make(map[string]uint64)
	c.log.Info("Session restored", zap.Int("consolidated_parts", len(s.Parts)))
}

// HasSession reports whether a BOM is loaded.
func (c *Coordinator) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// WithSession runs fn with exclusive access to the session. fn must not
// retain references past its return.
func (c *Coordinator) WithSession(fn func(*Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return fmt.Errorf("no BOM session loaded")
	}
	return fn(c.session)
}

// SearchPart dispatches a background search for one part. An empty keyword
// is synthesized from the part's fields. A new search supersedes any
// in-flight search for the same part.
func (c *Coordinator) SearchPart(ctx context.Context, key, kw string) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("no BOM session loaded")
	}
	part := c.session.Part(key)
	if part == nil {
		c.mu.Unlock()
		return fmt.Errorf("unknown part key %q", key)
	}
	c.generations[key]++
	gen := c.generations[key]
	if err := c.session.BeginSearch(key, kw); err != nil {
		c.mu.Unlock()
		return err
	}
	opts := c.session.Options
	partCopy := clonePart(part)
	c.mu.Unlock()

	// The dispatching request's context is canceled as soon as the handler
	// responds; the search must run to completion regardless.
	ctx = context.WithoutCancel(ctx)
	go func() {
		term := kw
		if term == "" {
			term = c.keywords.Generate(ctx, partCopy)
		}
		results, err := c.searchWithCache(ctx, partCopy.Field("mpn"), term, opts)
		c.deliver(SearchOutcome{Key: key, Generation: gen, Keyword: term, Results: results, Err: err})
	}()
	return nil
}

// SearchBatch dispatches one background worker that searches the given parts
// sequentially in part order. Keywords are synthesized in a single batch
// call; the vendor client's rate limiter paces the provider calls.
func (c *Coordinator) SearchBatch(ctx context.Context, keys []string) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("no BOM session loaded")
	}
	type job struct {
		key  string
		gen  uint64
		part *bom.ConsolidatedPart
	}
	jobs := make([]job, 0, len(keys))
	for _, key := range keys {
		part := c.session.Part(key)
		if part == nil {
			c.mu.Unlock()
			return fmt.Errorf("unknown part key %q", key)
		}
		c.generations[key]++
		c.session.BeginSearch(key, "")
		jobs = append(jobs, job{key: key, gen: c.generations[key], part: clonePart(part)})
	}
	c.session.SetBatch(keys)
	opts := c.session.Options
	c.mu.Unlock()

	if len(jobs) == 0 {
		return fmt.Errorf("no parts to search")
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		parts := make([]*bom.ConsolidatedPart, len(jobs))
		for i, j := range jobs {
			parts[i] = j.part
		}
		terms := c.keywords.GenerateBatch(ctx, parts)

		for i, j := range jobs {
			term := terms[j.part.Index]
			if term == "" {
				term = keyword.Fallback(j.part)
			}
			results, err := c.searchWithCache(ctx, j.part.Field("mpn"), term, opts)
			c.deliver(SearchOutcome{Key: j.key, Generation: j.gen, Keyword: term, Results: results, Err: err})
			c.hub.PublishBatchProgress(i+1, len(jobs))
		}
	}()
	return nil
}

// searchWithCache consults the result cache before hitting the provider.
func (c *Coordinator) searchWithCache(ctx context.Context, mpn, term string, opts Options) ([]vendor.Part, error) {
	if cached, hit := c.cache.Get(ctx, term, opts.InStockOnly, opts.ActiveOnly); hit {
		c.log.Info("Search cache hit", zap.String("keyword", term))
		return cached, nil
	}
	results, err := c.searcher.Search(ctx, mpn, term, opts.InStockOnly, opts.ActiveOnly)
	if err == nil {
		c.cache.Put(ctx, term, opts.InStockOnly, opts.ActiveOnly, results)
	}
	return results, err
}

// Confirm records a choice by result index; NA confirms the not-available
// sentinel. When the confirmed part is under the batch cursor, the cursor
// auto-advances unless it is on the last part.
func (c *Coordinator) Confirm(key string, index int, na bool) (next string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", fmt.Errorf("no BOM session loaded")
	}
	if na {
		err = c.session.Confirm(key, vendor.NASentinel())
	} else {
		err = c.session.ConfirmIndex(key, index)
	}
	if err != nil {
		return "", err
	}
	if c.session.BatchCurrent() == key {
		return c.session.BatchAdvance(), nil
	}
	return key, nil
}

// ToggleChecked flips a part's export flag.
func (c *Coordinator) ToggleChecked(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false, fmt.Errorf("no BOM session loaded")
	}
	return c.session.ToggleChecked(key)
}

// ShowMore widens a part's visible result window.
func (c *Coordinator) ShowMore(key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0, fmt.Errorf("no BOM session loaded")
	}
	return c.session.ShowMore(key)
}

// SetSortPreference re-ranks all retrieved result lists without re-querying.
func (c *Coordinator) SetSortPreference(mode rank.SortMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return fmt.Errorf("no BOM session loaded")
	}
	return c.session.SetSortPreference(mode)
}

// SetFilters updates the global search filters for subsequent searches.
func (c *Coordinator) SetFilters(inStockOnly, activeOnly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return fmt.Errorf("no BOM session loaded")
	}
	c.session.Options.InStockOnly = inStockOnly
	c.session.Options.ActiveOnly = activeOnly
	return nil
}

// UpdatePartField edits one field of a consolidated part in place. Identity
// (index and key handle) is unaffected.
func (c *Coordinator) UpdatePartField(key, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return fmt.Errorf("no BOM session loaded")
	}
	part := c.session.Part(key)
	if part == nil {
		return fmt.Errorf("unknown part key %q", key)
	}
	return part.SetField(field, value)
}

// BatchAdvance and BatchBack move the review cursor.
func (c *Coordinator) BatchAdvance() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", fmt.Errorf("no BOM session loaded")
	}
	return c.session.BatchAdvance(), nil
}

func (c *Coordinator) BatchBack() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", fmt.Errorf("no BOM session loaded")
	}
	return c.session.BatchBack(), nil
}

// clonePart deep-copies a part so background work never shares maps with the
// session.
func clonePart(p *bom.ConsolidatedPart) *bom.ConsolidatedPart {
	fields := make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	refdes := make([]string, len(p.RefDes))
	copy(refdes, p.RefDes)
	return &bom.ConsolidatedPart{
		Index:    p.Index,
		Key:      p.Key,
		Quantity: p.Quantity,
		RefDes:   refdes,
		Fields:   fields,
	}
}
