//go:build linux

// Package shm implements the POSIX-shared-memory-object lifecycle used by
// policy.GlobalPolicy's shared-memory backing store: create-or-open,
// size, map, and unlink, per spec.md §6.
//
// Go has no portable pthread_mutex_t that can live inside a
// cross-process shared-memory region without cgo, so the process-shared
// lock described in spec.md §3 ("pthread_mutex_t lock") is realized here
// as an advisory file lock (flock) on the backing descriptor, combined
// with an in-process sync.Mutex for intra-process callers. Every
// Region.Lock/Unlock pair takes both, so the net effect — "the lock
// protects atomic read-modify-publish" (spec.md §3) — holds across
// processes and within one.
package shm

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nodepower/powerplane/pkg/errs"
)

// ValidName reports whether name is a legal shared-memory object
// descriptor: starts with '/' and contains no other '/' (spec.md §4.6,
// §6).
func ValidName(name string) bool {
	if len(name) == 0 || name[0] != '/' {
		return false
	}
	return strings.Count(name, "/") == 1
}

// backingDir is where POSIX shared-memory objects live on Linux; shm_open
// is itself a thin wrapper around open() under this tmpfs mount.
const backingDir = "/dev/shm"

// Region is a mapped shared-memory object plus its synchronization.
type Region struct {
	name    string
	fd      int
	data    []byte
	owner   bool
	mu      sync.Mutex
	flocked bool
}

func pathFor(name string) string {
	return backingDir + name
}

// Create opens name with O_CREAT|O_EXCL, truncates it to size bytes, and
// maps it PROT_READ|PROT_WRITE|MAP_SHARED, mode 0770, per spec.md §6.
// The caller becomes the owner responsible for Unlink on teardown.
func Create(name string, size int) (*Region, error) {
	if !ValidName(name) {
		return nil, errs.Newf(errs.CodeInvalid, "shm: invalid descriptor %q", name)
	}
	fd, err := unix.Open(pathFor(name), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0770)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: open %s: %w", name, err))
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(pathFor(name))
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: ftruncate %s: %w", name, err))
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(pathFor(name))
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: mmap %s: %w", name, err))
	}
	return &Region{name: name, fd: fd, data: data, owner: true}, nil
}

// Open maps an existing shared-memory object for read/write, without
// creating or unlinking it.
func Open(name string, size int) (*Region, error) {
	if !ValidName(name) {
		return nil, errs.Newf(errs.CodeInvalid, "shm: invalid descriptor %q", name)
	}
	fd, err := unix.Open(pathFor(name), unix.O_RDWR, 0)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: open %s: %w", name, err))
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: mmap %s: %w", name, err))
	}
	return &Region{name: name, fd: fd, data: data, owner: false}, nil
}

// Bytes returns the mapped region for direct reads/writes. Callers must
// hold Lock while touching it.
func (r *Region) Bytes() []byte { return r.data }

// Lock acquires both the intra-process mutex and the cross-process
// advisory flock, in that order, so a single Region is safe for
// concurrent use within one process and mutually exclusive across
// processes mapping the same backing file.
func (r *Region) Lock() error {
	r.mu.Lock()
	if err := unix.Flock(r.fd, unix.LOCK_EX); err != nil {
		r.mu.Unlock()
		return errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: flock %s: %w", r.name, err))
	}
	r.flocked = true
	return nil
}

// Unlock releases the flock then the intra-process mutex, symmetric
// with Lock.
func (r *Region) Unlock() error {
	var err error
	if r.flocked {
		if e := unix.Flock(r.fd, unix.LOCK_UN); e != nil {
			err = errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: unflock %s: %w", r.name, e))
		}
		r.flocked = false
	}
	r.mu.Unlock()
	return err
}

// Close unmaps the region and, if this Region created the backing
// object, unlinks it — the creator-owns-shm_unlink rule in spec.md §4.6.
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: munmap %s: %w", r.name, err))
	}
	if err := unix.Close(r.fd); err != nil {
		return errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: close %s: %w", r.name, err))
	}
	if r.owner {
		if err := unix.Unlink(pathFor(r.name)); err != nil {
			return errs.Wrap(errs.CodeRuntime, fmt.Errorf("shm: unlink %s: %w", r.name, err))
		}
	}
	return nil
}
