package graphstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/learnloop/internal/graphstore")

// maxConflictRetries bounds retries of read-modify-write transactions.
const maxConflictRetries = 10

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool

	// Vector receives embeddings of nodes under indexed labels.
	Vector  VectorIndex
	Indexes []IndexSpec

	Logger *zap.Logger
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// Store is the graph arena plus its vector indexes.
type Store struct {
	db      *badger.DB
	vector  VectorIndex
	indexes map[string]IndexSpec // by name
	byLabel map[string]IndexSpec
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens the badger arena and declares the vector indexes.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if len(opts.Indexes) > 0 && opts.Vector == nil {
		return nil, fmt.Errorf("%w: vector indexes declared without a vector backend", ErrInvalidData)
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &Store{
		db:      db,
		vector:  opts.Vector,
		indexes: map[string]IndexSpec{},
		byLabel: map[string]IndexSpec{},
		logger:  opts.Logger,
		now:     opts.Now,
	}

	for _, spec := range opts.Indexes {
		if spec.Name == "" || spec.Label == "" || spec.Dimension <= 0 {
			_ = db.Close()
			return nil, fmt.Errorf("%w: index spec %+v", ErrInvalidData, spec)
		}
		if err := s.vector.EnsureIndex(ctx, spec); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensuring vector index %s: %w", spec.Name, err)
		}
		s.indexes[spec.Name] = spec
		s.byLabel[spec.Label] = spec
	}

	return s, nil
}

// Close closes the arena and the vector backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.vector != nil {
		errs = append(errs, s.vector.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return nil
}

// start opens a span and returns a finisher recording metrics.
func (s *Store) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := tracer.Start(ctx, "graphstore."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		observe(op, time.Since(begin).Seconds(), err)
	}
}

// update runs fn in a read-write transaction, retrying conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
		TxnConflictsTotal.Inc()
	}
}

// checkEmbedding rejects embeddings whose length differs from the index
// covering any of the node's labels.
func (s *Store) checkEmbedding(n *Node) error {
	if len(n.Embedding) == 0 {
		return nil
	}
	for _, label := range n.Labels {
		if spec, ok := s.byLabel[label]; ok && len(n.Embedding) != spec.Dimension {
			return fmt.Errorf("%w: index %s wants %d, got %d",
				ErrDimensionMismatch, spec.Name, spec.Dimension, len(n.Embedding))
		}
	}
	return nil
}

// indexNode mirrors n into every vector index covering its labels.
func (s *Store) indexNode(ctx context.Context, n *Node) error {
	if len(n.Embedding) == 0 {
		return nil
	}
	for _, label := range n.Labels {
		spec, ok := s.byLabel[label]
		if !ok {
			continue
		}
		if err := s.vector.Upsert(ctx, spec.Name, n.ID, n.Embedding); err != nil {
			return fmt.Errorf("indexing node %s in %s: %w", n.ID, spec.Name, err)
		}
	}
	return nil
}

func getNode(txn *badger.Txn, id string) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var n *Node
	err = item.Value(func(val []byte) error {
		var decodeErr error
		n, decodeErr = decodeNode(val)
		return decodeErr
	})
	return n, err
}

func getEdge(txn *badger.Txn, id string) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e *Edge
	err = item.Value(func(val []byte) error {
		var decodeErr error
		e, decodeErr = decodeEdge(val)
		return decodeErr
	})
	return e, err
}

// writeNode stores n and its label index keys, dropping stale labels.
func writeNode(txn *badger.Txn, n *Node, previous *Node) error {
	data, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if err := txn.Set(nodeKey(n.ID), data); err != nil {
		return err
	}
	if previous != nil {
		for _, label := range previous.Labels {
			if !n.HasLabel(label) {
				if err := txn.Delete(labelIndexKey(label, n.ID)); err != nil {
					return err
				}
			}
		}
	}
	for _, label := range n.Labels {
		if err := txn.Set(labelIndexKey(label, n.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(n *Node) error {
	if n == nil {
		return ErrInvalidData
	}
	if n.ID == "" {
		return ErrInvalidID
	}
	return nil
}

// CreateNode inserts a new node. It fails with ErrAlreadyExists if the id
// is taken.
func (s *Store) CreateNode(ctx context.Context, n *Node) (err error) {
	ctx, done := s.start(ctx, "create_node")
	defer func() { done(err) }()

	if err := validateNode(n); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkEmbedding(n); err != nil {
		return err
	}

	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now

	err = s.update(func(txn *badger.Txn) error {
		if _, err := getNode(txn, n.ID); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return writeNode(txn, n, nil)
	})
	if err != nil {
		return err
	}
	return s.indexNode(ctx, n)
}

// GetNode loads a node by id.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var n *Node
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, id)
		return err
	})
	return n, err
}

// PutNode creates or overwrites a node, keeping CreatedAt of an existing one.
func (s *Store) PutNode(ctx context.Context, n *Node) (err error) {
	ctx, done := s.start(ctx, "put_node")
	defer func() { done(err) }()

	if err := validateNode(n); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkEmbedding(n); err != nil {
		return err
	}

	err = s.update(func(txn *badger.Txn) error {
		prev, err := getNode(txn, n.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		now := s.now()
		n.CreatedAt, n.UpdatedAt = now, now
		if prev != nil {
			n.CreatedAt = prev.CreatedAt
		}
		return writeNode(txn, n, prev)
	})
	if err != nil {
		return err
	}
	return s.indexNode(ctx, n)
}

// MergeNode atomically upserts a node. onCreate runs on a fresh node with
// labels set; onMatch runs on the stored node. Either may be nil. The
// transaction is retried on conflict, so callbacks must be pure functions of
// the node they receive.
func (s *Store) MergeNode(ctx context.Context, id string, labels []string, onCreate, onMatch func(*Node) error) (node *Node, created bool, err error) {
	ctx, done := s.start(ctx, "merge_node", attribute.String("node.id", id))
	defer func() { done(err) }()

	if id == "" {
		return nil, false, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	err = s.update(func(txn *badger.Txn) error {
		var err error
		node, created, err = s.mergeNodeTxn(txn, id, labels, onCreate, onMatch)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return node, created, s.indexNode(ctx, node)
}

// MergeNodeFrom upserts node id and links from -> id with an edge of typ,
// in one transaction. If that edge already exists nothing is written and
// linked is false, so a retried call never applies onMatch twice for the
// same source.
func (s *Store) MergeNodeFrom(ctx context.Context, typ, from, id string, labels []string, onCreate, onMatch func(*Node) error) (node *Node, linked bool, err error) {
	ctx, done := s.start(ctx, "merge_node_from",
		attribute.String("node.id", id), attribute.String("edge.type", typ))
	defer func() { done(err) }()

	if typ == "" || from == "" || id == "" {
		return nil, false, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	err = s.update(func(txn *badger.Txn) error {
		node, linked = nil, false
		if _, err := getNode(txn, from); err != nil {
			return fmt.Errorf("edge source %s: %w", from, err)
		}
		_, err := getEdge(txn, EdgeID(typ, from, id))
		switch {
		case err == nil:
			node, err = getNode(txn, id)
			return err
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if node, _, err = s.mergeNodeTxn(txn, id, labels, onCreate, onMatch); err != nil {
			return err
		}
		linked = true
		_, err = s.putEdgeTxn(txn, typ, from, id, nil)
		return err
	})
	if err != nil || !linked {
		return node, false, err
	}
	return node, true, s.indexNode(ctx, node)
}

func (s *Store) mergeNodeTxn(txn *badger.Txn, id string, labels []string, onCreate, onMatch func(*Node) error) (*Node, bool, error) {
	prev, err := getNode(txn, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var node *Node
	created := prev == nil
	if created {
		now := s.now()
		node = &Node{
			ID:         id,
			Labels:     append([]string(nil), labels...),
			Properties: map[string]any{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if onCreate != nil {
			if err := onCreate(node); err != nil {
				return nil, false, err
			}
		}
	} else {
		node = prev
		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		for _, l := range labels {
			if !node.HasLabel(l) {
				node.Labels = append(node.Labels, l)
			}
		}
		node.UpdatedAt = s.now()
		if onMatch != nil {
			if err := onMatch(node); err != nil {
				return nil, false, err
			}
		}
	}
	if err := s.checkEmbedding(node); err != nil {
		return nil, false, err
	}
	// Merging only adds labels, so there are no stale label keys to drop.
	return node, created, writeNode(txn, node, nil)
}

// IndexNode re-asserts the vector index entries of a stored node.
func (s *Store) IndexNode(ctx context.Context, id string) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	return s.indexNode(ctx, n)
}

// NodesByLabel returns every node carrying label, in id order.
func (s *Store) NodesByLabel(ctx context.Context, label string) (nodes []*Node, err error) {
	_, done := s.start(ctx, "nodes_by_label", attribute.String("label", label))
	defer func() { done(err) }()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	prefix := labelIndexPrefix(label)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := suffixAfter(it.Item().Key(), prefix)
			if id == "" {
				continue
			}
			n, err := getNode(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		}
		return nil
	})
	return nodes, err
}

// CountByLabel counts nodes carrying label without decoding them.
func (s *Store) CountByLabel(ctx context.Context, label string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	prefix := labelIndexPrefix(label)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// MergeEdge creates the edge of typ from -> to or merges props into the
// existing one. Both endpoints must exist.
func (s *Store) MergeEdge(ctx context.Context, typ, from, to string, props map[string]any) (edge *Edge, err error) {
	_, done := s.start(ctx, "merge_edge", attribute.String("edge.type", typ))
	defer func() { done(err) }()

	if typ == "" || from == "" || to == "" {
		return nil, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	err = s.update(func(txn *badger.Txn) error {
		if _, err := getNode(txn, from); err != nil {
			return fmt.Errorf("edge source %s: %w", from, err)
		}
		var err error
		edge, err = s.putEdgeTxn(txn, typ, from, to, props)
		return err
	})
	return edge, err
}

// putEdgeTxn creates or merges the edge of typ from -> to. The caller has
// checked the source; the target is checked here.
func (s *Store) putEdgeTxn(txn *badger.Txn, typ, from, to string, props map[string]any) (*Edge, error) {
	if _, err := getNode(txn, to); err != nil {
		return nil, fmt.Errorf("edge target %s: %w", to, err)
	}

	id := EdgeID(typ, from, to)
	edge, err := getEdge(txn, id)
	switch {
	case errors.Is(err, ErrNotFound):
		edge = &Edge{ID: id, Type: typ, From: from, To: to, Properties: map[string]any{}, CreatedAt: s.now()}
	case err != nil:
		return nil, err
	case edge.Properties == nil:
		edge.Properties = map[string]any{}
	}
	for k, v := range props {
		edge.Properties[k] = v
	}

	data, err := encodeEdge(edge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode edge: %w", err)
	}
	if err := txn.Set(edgeKey(id), data); err != nil {
		return nil, err
	}
	if err := txn.Set(outgoingIndexKey(from, id), []byte{}); err != nil {
		return nil, err
	}
	return edge, txn.Set(incomingIndexKey(to, id), []byte{})
}

// OutgoingEdges lists edges leaving from. An empty typ matches every type.
func (s *Store) OutgoingEdges(ctx context.Context, from, typ string) ([]*Edge, error) {
	return s.adjacentEdges(ctx, prefixOutgoingIndex, from, typ)
}

// IncomingEdges lists edges arriving at to. An empty typ matches every type.
func (s *Store) IncomingEdges(ctx context.Context, to, typ string) ([]*Edge, error) {
	return s.adjacentEdges(ctx, prefixIncomingIndex, to, typ)
}

func (s *Store) adjacentEdges(_ context.Context, dir byte, nodeID, typ string) ([]*Edge, error) {
	if nodeID == "" {
		return nil, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	prefix := adjacencyPrefix(dir, nodeID)
	var edges []*Edge
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			e, err := getEdge(txn, suffixAfter(it.Item().Key(), prefix))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if typ == "" || e.Type == typ {
				edges = append(edges, e)
			}
		}
		return nil
	})
	return edges, err
}

// VectorSearch returns up to k nodes nearest to embedding in the named
// index, by descending score. Hits whose node has vanished are skipped.
func (s *Store) VectorSearch(ctx context.Context, index string, embedding []float32, k int) (results []ScoredNode, err error) {
	ctx, done := s.start(ctx, "vector_search", attribute.String("index", index), attribute.Int("k", k))
	defer func() { done(err) }()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	spec, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	if len(embedding) != spec.Dimension {
		return nil, fmt.Errorf("%w: index %s wants %d, got %d",
			ErrDimensionMismatch, index, spec.Dimension, len(embedding))
	}

	hits, err := s.vector.Query(ctx, index, embedding, k)
	if err != nil {
		return nil, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		for _, h := range hits {
			n, err := getNode(txn, h.ID)
			if errors.Is(err, ErrNotFound) {
				s.logger.Debug("vector hit without node", zap.String("index", index), zap.String("id", h.ID))
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, ScoredNode{Node: n, Score: h.Score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	VectorResults.WithLabelValues(index).Observe(float64(len(results)))
	return results, nil
}

// Reindex rebuilds every vector index from the arena and returns the number
// of nodes indexed.
func (s *Store) Reindex(ctx context.Context) (count int, err error) {
	ctx, done := s.start(ctx, "reindex")
	defer func() { done(err) }()

	for _, spec := range s.indexes {
		nodes, err := s.NodesByLabel(ctx, spec.Label)
		if err != nil {
			return count, err
		}
		for _, n := range nodes {
			if len(n.Embedding) != spec.Dimension {
				s.logger.Warn("skipping node with wrong embedding dimension",
					zap.String("id", n.ID), zap.Int("dimension", len(n.Embedding)))
				continue
			}
			if err := s.vector.Upsert(ctx, spec.Name, n.ID, n.Embedding); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
