package jit

import "sync"

// CompilerThread is the per-goroutine compilation state spec.md §5's
// concurrency model requires: compilation of one function is single
// threaded (a CompilerThread is never shared across goroutines while
// compiling), but many CompilerThreads can run concurrently against the
// same Compiler, each compiling a different function. FrameLink chains a
// thread to the caller that triggered its compile, so a nested compile
// triggered while resolving a promotion (compiling the promoted path
// itself calls into another function) can unwind cleanly on failure.
type CompilerThread struct {
	ID         int
	Arena      *vinfoArena
	Regs       *RegisterAllocator
	Profiler   Profiler
	FrameLink  *CompilerThread // the thread that triggered this one, or nil
	Promotions *PromotionTable
}

// threadCounter hands out unique CompilerThread IDs.
var threadCounter struct {
	mu   sync.Mutex
	next int
}

func nextThreadID() int {
	threadCounter.mu.Lock()
	defer threadCounter.mu.Unlock()
	threadCounter.next++
	return threadCounter.next
}

// NewCompilerThread creates a fresh thread, optionally linked to a parent
// (the thread whose compile triggered this one).
func NewCompilerThread(cfg *Config, parent *CompilerThread) *CompilerThread {
	return &CompilerThread{
		ID:         nextThreadID(),
		Arena:      newVinfoArena(),
		Regs:       NewRegisterAllocator(),
		Promotions: NewPromotionTable(cfg),
		FrameLink:  parent,
	}
}

// Depth reports how many frames of nested compilation led to this thread
// (the length of its FrameLink chain). Nothing in this package limits
// compilation by it.
func (t *CompilerThread) Depth() int {
	d := 0
	for p := t.FrameLink; p != nil; p = p.FrameLink {
		d++
	}
	return d
}

// threadPool hands CompilerThreads out to concurrent callers of
// Compiler.CompileFunction, reusing finished threads from an idle list
// rather than discarding them. A reused thread gets a fresh vinfoArena and
// PromotionTable and a reset RegisterAllocator; nothing of the old arena
// is kept.
type threadPool struct {
	mu   sync.Mutex
	idle []*CompilerThread
	cfg  *Config
}

func newThreadPool(cfg *Config) *threadPool {
	return &threadPool{cfg: cfg}
}

func (p *threadPool) Get(parent *CompilerThread) *CompilerThread {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return NewCompilerThread(p.cfg, parent)
	}
	t := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	t.FrameLink = parent
	t.Arena = newVinfoArena()
	t.Regs.Reset()
	// Promotion sites are keyed by bytecode offset only, so handing a
	// reused thread's PromotionTable to a different function's compile
	// would let that function's offset 3 inherit another function's
	// observed values at its own offset 3. Each compile starts cold.
	t.Promotions = NewPromotionTable(p.cfg)
	return t
}

func (p *threadPool) Put(t *CompilerThread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.FrameLink = nil
	p.idle = append(p.idle, t)
}
