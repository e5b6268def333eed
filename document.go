package gocrdt

import (
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is the core engine's entry point: it owns the StructStore, the
// root-type registry, the single active Transaction (if any), and the
// FIFO of transactions awaiting close-time processing (spec §4.5/§6).
//
// Document.Transact is the only supported way to mutate a Document. Per
// spec §5 the engine is single-threaded cooperative — a Document is not
// safe for concurrent Transact calls from multiple goroutines, the same
// way the teacher's RGA guards itself with a mutex for simple atomic ops
// but this engine's nested/observer-triggered transaction re-entry would
// deadlock under a naive non-reentrant mutex. mu guards only the
// lower-traffic root-type registry, which front-end code may reasonably
// populate from a different goroutine than the one driving transactions.
type Document struct {
	mu sync.Mutex

	clientID uint64
	store    *StructStore
	share    map[string]*Branch

	transaction       *Transaction
	cleanupQueue      []*Transaction
	processingCleanup bool

	pendingStructRefs   map[uint64]*pendingClientRefs
	pendingDeleteReaders []pendingDeleteRange

	log *zap.Logger

	beforeTransactionHandlers     []func(*Transaction)
	afterTransactionHandlers      []func(*Transaction)
	beforeObserverCallsHandlers   []func(*Transaction)
	afterTransactionCleanupHandlers []func(*Transaction)
	updateHandlers                []func(update []byte, origin any, tx *Transaction)
}

// Option configures a Document at construction time.
type Option func(*Document)

// WithLogger attaches a zap.Logger; gocrdt logs under a "gocrdt"-named
// child logger, the convention edirooss-zmux-server's services use
// (log.Named("channel_service")).
func WithLogger(log *zap.Logger) Option {
	return func(d *Document) { d.log = log.Named("gocrdt") }
}

// WithClientID pins the Document's client id instead of generating one
// randomly. Mainly useful for deterministic tests.
func WithClientID(client uint64) Option {
	return func(d *Document) { d.clientID = client }
}

// NewDocument constructs an empty Document with a fresh random client id.
func NewDocument(opts ...Option) *Document {
	doc := &Document{
		store:             NewStructStore(),
		share:             make(map[string]*Branch),
		pendingStructRefs: make(map[uint64]*pendingClientRefs),
		log:               zap.NewNop(),
		clientID:          randomClientID(),
	}
	for _, opt := range opts {
		opt(doc)
	}
	return doc
}

// randomClientID derives a process-local positive client id from a
// random UUID's low bytes (spec §4.1: "client is a process-local random
// positive integer"), the way edirooss-zmux-server reaches for
// google/uuid wherever it needs a fresh identifier.
func randomClientID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 8; i < 16; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v &^ (1 << 63)
}

// ClientID returns this Document's own client id.
func (doc *Document) ClientID() uint64 { return doc.clientID }

// NextID returns the ID this Document would assign to the next unit it
// creates: (clientID, getState(clientID)).
func (doc *Document) NextID() ID {
	return NewID(doc.clientID, doc.store.getState(doc.clientID))
}

// Get returns the root Branch registered under name, creating it if this
// is the first reference — the minimal root-naming registry spec §6's
// "parent reference... bound to a root type" needs (see SPEC_FULL.md).
func (doc *Document) Get(name string) *Branch {
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.getOrCreateRootLocked(name)
}

func (doc *Document) getOrCreateRoot(name string) *Branch {
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.getOrCreateRootLocked(name)
}

func (doc *Document) getOrCreateRootLocked(name string) *Branch {
	b, ok := doc.share[name]
	if !ok {
		b = newBranch(name)
		doc.share[name] = b
	}
	return b
}

// Transact runs fn under a transaction, opening one if none is already
// active on this call stack, or reusing the active one if this is a
// reentrant call (a mutation made from inside the body of an outer
// Transact call). A call made from an observer callback is NOT reentrant
// in this sense — by the time observers fire, the triggering transaction
// has already cleared doc.transaction, so the observer's call opens a
// fresh transaction that is appended to the cleanup queue and processed
// strictly after the one currently being closed (spec §4.5 nesting rule).
func (doc *Document) Transact(fn func(tx *Transaction) error, origin any) error {
	initialCall := doc.transaction == nil
	var tx *Transaction
	if initialCall {
		tx = newTransaction(doc, origin)
		doc.transaction = tx
		doc.cleanupQueue = append(doc.cleanupQueue, tx)
		doc.fireBeforeTransaction(tx)
	} else {
		tx = doc.transaction
	}

	err := fn(tx)

	if initialCall {
		doc.transaction = nil
		if !doc.processingCleanup {
			doc.processCleanupQueue()
		}
	}
	return err
}

// processCleanupQueue is the sole processor of doc.cleanupQueue: it pops
// and closes transactions strictly in FIFO order, including any appended
// mid-loop by an observer's own Transact call (spec design note:
// "enqueue rather than recurse; the outermost frame is the sole processor
// of the cleanup queue").
func (doc *Document) processCleanupQueue() {
	doc.processingCleanup = true
	defer func() { doc.processingCleanup = false }()

	for len(doc.cleanupQueue) > 0 {
		tx := doc.cleanupQueue[0]
		doc.cleanupQueue = doc.cleanupQueue[1:]
		doc.closeTransaction(tx)
	}
}

func (doc *Document) closeTransaction(tx *Transaction) {
	tx.close()

	doc.fireBeforeObserverCalls(tx)
	tx.deliverObservers()
	doc.fireAfterTransaction(tx)
	doc.fireAfterTransactionCleanup(tx)

	if len(doc.updateHandlers) == 0 {
		return
	}
	update, err := tx.computeUpdate()
	if err != nil {
		doc.log.Warn("computeUpdate failed", zap.Error(err))
		return
	}
	if update == nil {
		return
	}
	doc.fireUpdate(update, tx.origin, tx)
}

// InsertItem is the core primitive a front-end sequence/map type uses to
// create and integrate a new Item (spec §6). origin/rightOrigin name the
// neighbors the content was inserted between; parentSub names a map key,
// or nil for a sequence position.
func (doc *Document) InsertItem(tx *Transaction, branch *Branch, origin, rightOrigin *ID, parentSub *string, content ItemContent) (*Item, error) {
	if tx == nil || doc.transaction != tx {
		return nil, ErrNoActiveTransaction
	}
	item := &Item{
		id:          doc.NextID(),
		length:      content.Len(),
		origin:      origin,
		rightOrigin: rightOrigin,
		parent:      branch,
		parentSub:   parentSub,
		content:     content,
	}
	if err := integrateItem(tx, item); err != nil {
		return nil, err
	}
	doc.log.Debug("integrated item", zap.Stringer("id", idStringer{item.id}), zap.Uint64("length", item.length))
	return item, nil
}

// DeleteItem marks [id.Clock, id.Clock+length) on id.Client as deleted,
// splitting clean boundaries as needed (spec §6 addToDeleteSet contract).
func (doc *Document) DeleteItem(tx *Transaction, id ID, length uint64) error {
	if tx == nil || doc.transaction != tx {
		return ErrNoActiveTransaction
	}
	return doc.deleteRange(tx, id.Client, id.Clock, id.Clock+length)
}

// ApplyUpdate decodes and integrates a remote update message, parking
// anything whose dependencies are not yet locally known.
func (doc *Document) ApplyUpdate(data []byte, origin any) error {
	refs, ds, err := decodeUpdateMessage(data)
	if err != nil {
		return err
	}
	return doc.Transact(func(tx *Transaction) error {
		if err := doc.integrateStructRefs(tx, refs); err != nil {
			return err
		}
		if err := doc.applyDeleteSet(tx, ds); err != nil {
			return err
		}
		return doc.retryPendingDeleteReaders(tx)
	}, origin)
}

// EncodeStateVector returns the wire form of this Document's state
// vector.
func (doc *Document) EncodeStateVector() []byte {
	return encodeStateVector(doc.store.getStateVector())
}

// EncodeStateAsUpdate returns an update message containing every struct
// this Document has beyond remoteSV, plus its full delete set — enough
// for a replica that reports remoteSV to catch up fully.
func (doc *Document) EncodeStateAsUpdate(remoteSV map[uint64]uint64) ([]byte, error) {
	structsByClient := make(map[uint64][]Struct)
	for _, client := range doc.store.clientIDs() {
		from := remoteSV[client]
		state := doc.store.getState(client)
		if from >= state {
			continue
		}
		if from > 0 {
			if _, err := doc.store.getItemCleanStart(NewID(client, from)); err != nil {
				return nil, err
			}
		}
		var structs []Struct
		for _, st := range doc.store.clients[client] {
			if st.ID().Clock >= from {
				structs = append(structs, st)
			}
		}
		if len(structs) > 0 {
			structsByClient[client] = structs
		}
	}
	ds := createDeleteSetFromStructStore(doc.store)
	return encodeUpdateMessage(structsByClient, ds)
}

// IntegrityCheck exposes the struct store's contiguity/monotonicity
// verification (spec §4.2).
func (doc *Document) IntegrityCheck() error {
	return doc.store.integrityCheck()
}

// DebugDump renders the struct store, root registry, and any parked
// pending refs/deletes via go-spew, for failing-test output and ad hoc
// troubleshooting — not meant to be parsed.
func (doc *Document) DebugDump() string {
	return spew.Sdump(struct {
		ClientID             uint64
		Clients              map[uint64][]Struct
		Roots                map[string]*Branch
		PendingStructRefs    map[uint64]*pendingClientRefs
		PendingDeleteReaders []pendingDeleteRange
	}{
		ClientID:             doc.clientID,
		Clients:              doc.store.clients,
		Roots:                doc.share,
		PendingStructRefs:    doc.pendingStructRefs,
		PendingDeleteReaders: doc.pendingDeleteReaders,
	})
}

// Event registration. Shallow/deep Branch-scoped observers are registered
// directly on a Branch (Branch.Observe / Branch.ObserveDeep); these five
// are the document-wide lifecycle hooks.
func (doc *Document) OnBeforeTransaction(fn func(*Transaction)) {
	doc.beforeTransactionHandlers = append(doc.beforeTransactionHandlers, fn)
}

func (doc *Document) OnBeforeObserverCalls(fn func(*Transaction)) {
	doc.beforeObserverCallsHandlers = append(doc.beforeObserverCallsHandlers, fn)
}

func (doc *Document) OnAfterTransaction(fn func(*Transaction)) {
	doc.afterTransactionHandlers = append(doc.afterTransactionHandlers, fn)
}

func (doc *Document) OnAfterTransactionCleanup(fn func(*Transaction)) {
	doc.afterTransactionCleanupHandlers = append(doc.afterTransactionCleanupHandlers, fn)
}

func (doc *Document) OnUpdate(fn func(update []byte, origin any, tx *Transaction)) {
	doc.updateHandlers = append(doc.updateHandlers, fn)
}

func (doc *Document) fireBeforeTransaction(tx *Transaction) {
	doc.log.Debug("beforeTransaction")
	for _, fn := range doc.beforeTransactionHandlers {
		fn(tx)
	}
}

func (doc *Document) fireBeforeObserverCalls(tx *Transaction) {
	for _, fn := range doc.beforeObserverCallsHandlers {
		fn(tx)
	}
}

func (doc *Document) fireAfterTransaction(tx *Transaction) {
	for _, fn := range doc.afterTransactionHandlers {
		fn(tx)
	}
}

func (doc *Document) fireAfterTransactionCleanup(tx *Transaction) {
	doc.log.Debug("afterTransactionCleanup")
	for _, fn := range doc.afterTransactionCleanupHandlers {
		fn(tx)
	}
}

func (doc *Document) fireUpdate(update []byte, origin any, tx *Transaction) {
	for _, fn := range doc.updateHandlers {
		fn(update, origin, tx)
	}
}

type idStringer struct{ id ID }

func (s idStringer) String() string { return s.id.String() }
