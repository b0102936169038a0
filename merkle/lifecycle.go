package merkle

import "golang.org/x/sync/errgroup"

// Close stops the commit worker, flushes any committed-but-unflushed
// state to disk (a poisoned tree is not flushed), releases the tree's
// name back to the registry, and closes the underlying engine handle.
// It is safe to call more than once; every call after the first is a
// no-op (spec §4.6).
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(t.stopCh)
	t.queue.close()
	_ = t.eg.Wait()

	var flushErr error
	if !t.poisoned.Load() {
		t.writeLock.Lock()
		flushErr = t.flushLocked()
		t.writeLock.Unlock()
	}

	defaultRegistry.deregister(t.name)

	if err := t.kvStore.Close(); err != nil {
		return newErr(IoFailure, err)
	}
	return flushErr
}

// CloseAll closes every tree currently open in this process,
// concurrently, returning the first error encountered (if any).
// Intended as a single shutdown hook for a host process — the debug
// CLI's signal handler calls this, library code never installs a
// signal handler of its own (SPEC_FULL.md §4.6).
func CloseAll() error {
	var eg errgroup.Group
	for _, t := range defaultRegistry.snapshot() {
		t := t
		eg.Go(t.Close)
	}
	return eg.Wait()
}
