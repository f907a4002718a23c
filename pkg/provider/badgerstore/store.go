// Package badgerstore is a persistent Provider backed by BadgerDB.
//
// Every graph has a catalog entry and three covering indexes (SPO, POS, OSP). Index keys
// concatenate positionally encoded terms: a discriminator byte, the lexical value and,
// for literals, the datatype or language tag. Any filter pattern is answered by a single
// prefix scan over the index whose key order puts the bound components first.
//
// Blank nodes are skolemized: the first time a *rdf.BlankNode is written it is given a
// UUID that is stored in place of the node. Reading the id back yields the same pointer
// for the lifetime of the Provider; after a restart each id maps to a fresh blank node.
//
// Example:
//
//	p, err := badgerstore.Open(badgerstore.Options{DataDir: "./data/graphs"})
//	if err != nil {
//		return fmt.Errorf("failed to open graph store: %w", err)
//	}
//	defer p.Close()
//
//	g, err := p.Create("http://example.org/g")
//	g.Add(rdf.MustTriple(alice, knows, bob))
//
// ELI12:
//
// Badger is a filing cabinet on disk. Each fact is filed three times, once sorted by who
// it is about, once by the property and once by the value, so whichever part of the fact
// you already know, you can open the right drawer and flip straight to it.
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/provider"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// DefaultWeight is the weight of a provider opened without Options.Weight.
const DefaultWeight = 5

// ErrClosed is returned after Close.
var ErrClosed = errors.New("badgerstore: provider closed")

// Options configures a Provider.
type Options struct {
	// DataDir is the database directory. Ignored when InMemory is set.
	DataDir string
	// InMemory keeps all data in RAM; useful for tests.
	InMemory bool
	// SyncWrites forces an fsync after every write.
	SyncWrites bool
	// Name identifies the provider to the registry. Defaults to "badger".
	Name string
	// Weight is the routing weight. Defaults to DefaultWeight.
	Weight int
	// Undeletable lists names the provider refuses to delete.
	Undeletable []rdf.IRI
	// BlockCacheSize is Badger's block cache in bytes. Defaults to 32MB.
	BlockCacheSize int64
	// Logger receives the provider's diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// BadgerLogger receives Badger's own log output. nil silences it.
	BadgerLogger badger.Logger
}

// Provider is a Badger-backed WeightedProvider.
type Provider struct {
	db     *badger.DB
	name   string
	weight int
	logger *slog.Logger

	mu          sync.RWMutex
	closed      bool
	undeletable map[rdf.IRI]struct{}
	mutable     map[rdf.IRI]*Graph
	immutable   map[rdf.IRI]*graph.FrozenGraph

	skMu    sync.RWMutex
	skolems map[*rdf.BlankNode]uuid.UUID
	blanks  map[uuid.UUID]*rdf.BlankNode
}

var _ provider.WeightedProvider = (*Provider)(nil)

// Open opens or creates the store described by opts.
func Open(opts Options) (*Provider, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.BadgerLogger)
	blockCache := opts.BlockCacheSize
	if blockCache <= 0 {
		blockCache = 32 << 20
	}

	// Index keys carry no values; keep the memory footprint small.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(blockCache).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	p := &Provider{
		db:          db,
		name:        opts.Name,
		weight:      opts.Weight,
		logger:      opts.Logger,
		undeletable: make(map[rdf.IRI]struct{}, len(opts.Undeletable)),
		mutable:     make(map[rdf.IRI]*Graph),
		immutable:   make(map[rdf.IRI]*graph.FrozenGraph),
		skolems:     make(map[*rdf.BlankNode]uuid.UUID),
		blanks:      make(map[uuid.UUID]*rdf.BlankNode),
	}
	if p.name == "" {
		p.name = "badger"
	}
	if p.weight <= 0 {
		p.weight = DefaultWeight
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, n := range opts.Undeletable {
		p.undeletable[n] = struct{}{}
	}
	return p, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Provider, error) {
	return Open(Options{InMemory: true})
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Weight() int { return p.weight }

// Close closes the database. Graphs obtained earlier fail afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func (p *Provider) Immutable(name rdf.IRI) (graph.ImmutableGraph, error) {
	kind, err := p.kind(name)
	if err != nil {
		return nil, graph.NewEntityError("immutable", name, err)
	}
	if kind != kindImmutable {
		return nil, graph.NewEntityError("immutable", name, graph.ErrNotFound)
	}
	return p.frozen(name)
}

func (p *Provider) Mutable(name rdf.IRI) (graph.Graph, error) {
	kind, err := p.kind(name)
	if err != nil {
		return nil, graph.NewEntityError("mutable", name, err)
	}
	if kind != kindMutable {
		return nil, graph.NewEntityError("mutable", name, graph.ErrNotFound)
	}
	return p.live(name), nil
}

func (p *Provider) Either(name rdf.IRI) (graph.ImmutableGraph, error) {
	kind, err := p.kind(name)
	if err != nil {
		return nil, graph.NewEntityError("get", name, err)
	}
	if kind == kindMutable {
		return p.live(name), nil
	}
	return p.frozen(name)
}

func (p *Provider) Create(name rdf.IRI) (graph.Graph, error) {
	if err := p.register(name, kindMutable, nil); err != nil {
		return nil, graph.NewEntityError("create", name, err)
	}
	return p.live(name), nil
}

func (p *Provider) CreateImmutable(name rdf.IRI, triples []rdf.Triple) (graph.ImmutableGraph, error) {
	if err := p.register(name, kindImmutable, triples); err != nil {
		return nil, graph.NewEntityError("create", name, err)
	}
	return p.frozen(name)
}

// register writes the catalog entry and the initial triples in one transaction.
func (p *Provider) register(name rdf.IRI, kind byte, triples []rdf.Triple) error {
	if name == "" {
		return graph.ErrInvalidArgument
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	for _, t := range triples {
		if !encodable(t.S) || !encodable(t.O) {
			return fmt.Errorf("%w: unsupported term in %v", graph.ErrInvalidArgument, t)
		}
	}
	return p.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(catalogKey(name))
		if err == nil {
			return graph.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(catalogKey(name), []byte{kind}); err != nil {
			return err
		}
		for _, t := range triples {
			for _, key := range indexKeys(name, t, p) {
				if err := txn.Set(key, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (p *Provider) Delete(name rdf.IRI) error {
	if _, err := p.kind(name); err != nil {
		return graph.NewEntityError("delete", name, err)
	}
	if _, ok := p.undeletable[name]; ok {
		return graph.NewEntityError("delete", name, graph.ErrUndeletable)
	}

	g := p.cachedLive(name)
	if g != nil {
		// Wait for in-flight readers and writers of this graph.
		g.rw.Lock()
		defer g.rw.Unlock()
	}

	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(catalogKey(name))
	}); err != nil {
		return graph.NewEntityError("delete", name, err)
	}
	if g != nil {
		g.deleted.Store(true)
	}
	if err := p.db.DropPrefix(
		graphPrefix(prefixSPO, name),
		graphPrefix(prefixPOS, name),
		graphPrefix(prefixOSP, name),
	); err != nil {
		return graph.NewEntityError("delete", name, err)
	}

	p.mu.Lock()
	delete(p.mutable, name)
	delete(p.immutable, name)
	p.mu.Unlock()
	return nil
}

func (p *Provider) ListImmutable() ([]rdf.IRI, error) { return p.list(kindImmutable) }

func (p *Provider) ListMutable() ([]rdf.IRI, error) { return p.list(kindMutable) }

func (p *Provider) ListAll() ([]rdf.IRI, error) { return p.list(0) }

// list scans the catalog. kind 0 lists every graph.
func (p *Provider) list(kind byte) ([]rdf.IRI, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	names := []rdf.IRI{}
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixCatalog}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var k byte
			if err := item.Value(func(val []byte) error {
				if len(val) != 1 {
					return errCorruptKey
				}
				k = val[0]
				return nil
			}); err != nil {
				return err
			}
			if kind != 0 && k != kind {
				continue
			}
			name, _, err := readString(item.Key()[1:])
			if err != nil {
				return err
			}
			names = append(names, rdf.IRI(name))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provider.SortNames(names), nil
}

// NamesOf matches live graphs by identity, also through a read-only wrapper, and immutable
// graphs by isomorphism.
func (p *Provider) NamesOf(g graph.ImmutableGraph) ([]rdf.IRI, error) {
	if _, isMutable := g.(graph.Graph); isMutable {
		p.mu.RLock()
		defer p.mu.RUnlock()
		out := []rdf.IRI{}
		for name, live := range p.mutable {
			if graph.SameGraph(live, g) && !live.deleted.Load() {
				out = append(out, name)
			}
		}
		return out, nil
	}

	names, err := p.ListImmutable()
	if err != nil {
		return nil, err
	}
	out := []rdf.IRI{}
	for _, name := range names {
		f, err := p.frozen(name)
		if err != nil {
			return nil, err
		}
		if graph.ImmutableGraph(f) == g || f.Equal(g) {
			out = append(out, name)
		}
	}
	return out, nil
}

// kind returns the catalog entry of name, graph.ErrNotFound if there is none.
func (p *Provider) kind(name rdf.IRI) (byte, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	var kind byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(catalogKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return graph.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 1 {
				return errCorruptKey
			}
			kind = val[0]
			return nil
		})
	})
	return kind, err
}

// live returns the one *Graph for name, so every caller shares the same lock.
func (p *Provider) live(name rdf.IRI) *Graph {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.mutable[name]; ok {
		return g
	}
	g := &Graph{store: p, name: name, rw: lock.NewRWLock(name.Value())}
	p.mutable[name] = g
	return g
}

func (p *Provider) cachedLive(name rdf.IRI) *Graph {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mutable[name]
}

// frozen loads an immutable graph once and caches the snapshot.
func (p *Provider) frozen(name rdf.IRI) (*graph.FrozenGraph, error) {
	p.mu.RLock()
	f, ok := p.immutable[name]
	p.mu.RUnlock()
	if ok {
		return f, nil
	}

	triples, err := p.scan(name, nil, "", nil)
	if err != nil {
		return nil, graph.NewEntityError("immutable", name, err)
	}
	f = graph.NewFrozenGraph(triples...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.immutable[name]; ok {
		return cached, nil
	}
	p.immutable[name] = f
	return f, nil
}

func (p *Provider) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Provider) skolemize(b *rdf.BlankNode) uuid.UUID {
	p.skMu.RLock()
	id, ok := p.skolems[b]
	p.skMu.RUnlock()
	if ok {
		return id
	}

	p.skMu.Lock()
	defer p.skMu.Unlock()
	if id, ok := p.skolems[b]; ok {
		return id
	}
	id = uuid.New()
	p.skolems[b] = id
	p.blanks[id] = b
	return id
}

func (p *Provider) resolve(id uuid.UUID) *rdf.BlankNode {
	p.skMu.RLock()
	b, ok := p.blanks[id]
	p.skMu.RUnlock()
	if ok {
		return b
	}

	p.skMu.Lock()
	defer p.skMu.Unlock()
	if b, ok := p.blanks[id]; ok {
		return b
	}
	b = rdf.NewLabeledBlankNode(id.String())
	p.blanks[id] = b
	p.skolems[b] = id
	return b
}

func (p *Provider) known(b *rdf.BlankNode) bool {
	p.skMu.RLock()
	defer p.skMu.RUnlock()
	_, ok := p.skolems[b]
	return ok
}
