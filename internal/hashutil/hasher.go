package hashutil

import (
	"fmt"
	"hash"
	"sync"
)

// SingleBufferHasher streams one message through one hash.Hash instance. It is not
// thread-safe; each pipeline worker owns its own instance (spec §4.1).
type SingleBufferHasher struct {
	fn Function
	h  hash.Hash
}

// NewSingleBuffer builds the single-buffer backend for fn. This is the default backend
// selected by NewHasher whenever no multi-buffer backend is requested.
func NewSingleBuffer(fn Function) (*SingleBufferHasher, error) {
	h, err := newStdlibHash(fn)
	if err != nil {
		return nil, err
	}
	return &SingleBufferHasher{fn: fn, h: h}, nil
}

// Sum returns fn's digest of p in one shot, panicking if fn is unknown (callers pass a
// fixed, known-good Function constant, not user input).
func (fn Function) Sum(p []byte) Hash {
	h, err := NewSingleBuffer(fn)
	if err != nil {
		panic(err)
	}
	h.Update(p)
	return h.FinalizeTo(nil)
}

func (s *SingleBufferHasher) Function() Function { return s.fn }

// Update feeds bytes into the running digest.
func (s *SingleBufferHasher) Update(p []byte) { s.h.Write(p) }

// FinalizeTo finalizes the digest, appending it to out (which may be nil), and resets
// the hasher so it's ready for the next message. Mirrors the spec's
// "finalize_to(out_bytes)" plus implicit reset on finalize.
func (s *SingleBufferHasher) FinalizeTo(out []byte) Hash {
	sum := s.h.Sum(out)
	s.h.Reset()
	return Hash{Function: s.fn, Bytes: sum}
}

// Reset discards any partial digest without finalizing.
func (s *SingleBufferHasher) Reset() { s.h.Reset() }

// Size returns the digest length in bytes.
func (s *SingleBufferHasher) Size() int { return s.h.Size() }

// jobState is the FIRST|UPDATE|LAST|ENTIRE submission state from spec §4.1.
type jobState int

const (
	JobFirst jobState = iota
	JobUpdate
	JobLast
	JobEntire
)

// MultiBufferHasher is the "optional" backend from spec §4.1. No SIMD multi-buffer
// crypto library is available in this module's dependency set (the reference
// implementation's ISA-L/openssl multi-buffer backends are C libraries with no
// maintained Go binding in the example corpus), so jobs are computed eagerly against
// independent SingleBufferHasher instances keyed by job ID — the observable contract
// ("digest is ready after LAST for that job is submitted") holds even though there is
// no actual SIMD parallelism underneath.
type MultiBufferHasher struct {
	fn Function

	mu   sync.Mutex
	jobs map[int]*SingleBufferHasher
}

// NewMultiBuffer builds the multi-buffer backend for fn with an initial pool size of n.
func NewMultiBuffer(fn Function, n int) (*MultiBufferHasher, error) {
	if _, err := newStdlibHash(fn); err != nil {
		return nil, err
	}
	return &MultiBufferHasher{fn: fn, jobs: make(map[int]*SingleBufferHasher, n)}, nil
}

// Submit feeds bytes for jobID through state. FIRST and ENTIRE (re)start the job's
// hasher; UPDATE and LAST continue it.
func (m *MultiBufferHasher) Submit(jobID int, p []byte, state jobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.jobs[jobID]
	if !ok || state == JobFirst || state == JobEntire {
		nh, err := NewSingleBuffer(m.fn)
		if err != nil {
			return err
		}
		h = nh
		m.jobs[jobID] = h
	}
	h.Update(p)
	return nil
}

// FinalizeTo finalizes jobID's digest and removes it from the pool.
func (m *MultiBufferHasher) FinalizeTo(jobID int, out []byte) (Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.jobs[jobID]
	if !ok {
		return Hash{}, fmt.Errorf("multibuffer: finalize of unknown job %d", jobID)
	}
	delete(m.jobs, jobID)
	return h.FinalizeTo(out), nil
}

// Resize changes the expected pool size. The eager backend doesn't pre-allocate, so
// this only adjusts the map's growth hint.
func (m *MultiBufferHasher) Resize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.jobs) {
		grown := make(map[int]*SingleBufferHasher, n)
		for k, v := range m.jobs {
			grown[k] = v
		}
		m.jobs = grown
	}
}

// Reset discards every in-flight job.
func (m *MultiBufferHasher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[int]*SingleBufferHasher)
}

// Backend selects which hasher implementation NewHasher constructs.
type Backend int

const (
	BackendSingle Backend = iota
	BackendMultiBuffer
)

// NewHasher is the factory of spec §4.1: "selects a backend (single or multi) based on
// configuration and availability". Availability here is unconditional for
// BackendMultiBuffer (see MultiBufferHasher's doc comment) — it always succeeds, just
// without real SIMD parallelism.
func NewHasher(backend Backend, fn Function, poolSize int) (any, error) {
	switch backend {
	case BackendMultiBuffer:
		return NewMultiBuffer(fn, poolSize)
	default:
		return NewSingleBuffer(fn)
	}
}
