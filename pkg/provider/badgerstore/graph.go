package badgerstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Graph is a live mutable graph stored in Badger. Every method runs in its own Badger
// transaction; hold Lock() to make a sequence of calls atomic. Once the graph is deleted
// the handle is dead: writes fail with graph.ErrNotFound and reads see nothing, even if a
// graph of the same name is created again.
type Graph struct {
	store   *Provider
	name    rdf.IRI
	rw      *lock.RWLock
	deleted atomic.Bool
}

var _ graph.Graph = (*Graph)(nil)

// Name returns the graph name.
func (g *Graph) Name() rdf.IRI { return g.name }

// Lock returns the graph's read-write lock.
func (g *Graph) Lock() lock.ReadWriteLock { return g.rw }

// Filter scans the best index for the pattern. Results are read eagerly, so the iterator
// holds no Badger transaction.
func (g *Graph) Filter(s rdf.Term, p rdf.IRI, o rdf.Term) graph.Iterator {
	if g.deleted.Load() {
		return graph.Empty()
	}
	triples, err := g.store.scan(g.name, s, p, o)
	if err != nil {
		// Iterator has no error channel; an unreadable store reads as empty.
		g.store.logger.Warn("badgerstore: filter failed", "graph", g.name.Value(), "error", err)
		return graph.Empty()
	}
	return graph.NewSliceIterator(triples, func(t rdf.Triple) error {
		_, err := g.Remove(t)
		return err
	})
}

func (g *Graph) Size() int {
	if g.deleted.Load() {
		return 0
	}
	n, err := g.store.count(g.name)
	if err != nil {
		g.store.logger.Warn("badgerstore: size failed", "graph", g.name.Value(), "error", err)
		return 0
	}
	return n
}

func (g *Graph) Contains(t rdf.Triple) bool {
	if g.deleted.Load() || !storable(g.store, t.S, t.O) {
		return false
	}
	found := false
	_ = g.store.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKeys(g.name, t, g.store)[0])
		found = err == nil
		return nil
	})
	return found
}

func (g *Graph) Add(t rdf.Triple) (bool, error) {
	if _, err := rdf.NewTriple(t.S, t.P, t.O); err != nil {
		return false, err
	}
	if !encodable(t.O) {
		return false, graph.NewEntityError("add", g.name,
			fmt.Errorf("%w: unsupported term type %T", graph.ErrInvalidArgument, t.O))
	}
	if err := g.live("add"); err != nil {
		return false, err
	}
	changed := false
	err := g.store.db.Update(func(txn *badger.Txn) error {
		if err := g.registered(txn); err != nil {
			return err
		}
		keys := indexKeys(g.name, t, g.store)
		_, err := txn.Get(keys[0])
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		for _, key := range keys {
			if err := txn.Set(key, nil); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	return changed, g.wrap("add", err)
}

func (g *Graph) Remove(t rdf.Triple) (bool, error) {
	if err := g.live("remove"); err != nil {
		return false, err
	}
	if !storable(g.store, t.S, t.O) {
		return false, nil
	}
	changed := false
	err := g.store.db.Update(func(txn *badger.Txn) error {
		if err := g.registered(txn); err != nil {
			return err
		}
		keys := indexKeys(g.name, t, g.store)
		_, err := txn.Get(keys[0])
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	return changed, g.wrap("remove", err)
}

// live fails once the graph is deleted or the provider closed.
func (g *Graph) live(op string) error {
	if g.deleted.Load() {
		return graph.NewEntityError(op, g.name, graph.ErrNotFound)
	}
	return g.store.checkOpen()
}

// registered makes txn depend on the catalog entry, so a write racing with Delete either
// commits before the entry goes away (and is dropped with the indexes) or conflicts.
func (g *Graph) registered(txn *badger.Txn) error {
	_, err := txn.Get(catalogKey(g.name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.ErrNotFound
	}
	return err
}

func (g *Graph) wrap(op string, err error) error {
	if errors.Is(err, graph.ErrNotFound) {
		return graph.NewEntityError(op, g.name, err)
	}
	return err
}

// scan answers a filter pattern for graph name with one prefix scan.
func (p *Provider) scan(name rdf.IRI, s rdf.Term, pred rdf.IRI, o rdf.Term) ([]rdf.Triple, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if !storable(p, s, o) {
		return nil, nil
	}

	index, prefix := scanPlan(name, s, pred, o, p)
	var out []rdf.Triple
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			t, err := decodeKey(index, it.Item().Key(), p)
			if err != nil {
				return err
			}
			if t.Matches(s, pred, o) {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

func (p *Provider) count(name rdf.IRI) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	prefix := graphPrefix(prefixSPO, name)
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
