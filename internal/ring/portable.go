//go:build !giouring
// +build !giouring

package ring

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
)

// NewRing creates the portable, non-giouring Ring: a bounded worker pool
// performing the image-file reads with ReadAt and surfacing completions
// through a channel, used on platforms without real io_uring support or
// when the binary is not built with -tags giouring. Build with -tags
// giouring for a real io_uring-backed ring.
func NewRing(cfg Config) (Ring, error) {
	entries := cfg.Entries
	if entries == 0 {
		entries = 8
	}
	r := &portableRing{
		jobs:        make(chan job, entries),
		completions: make(chan Completion, entries),
		done:        make(chan struct{}),
	}
	for i := uint32(0); i < entries; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r, nil
}

type job struct {
	userData uint64
	file     *os.File
	buf      []byte
	offset   int64
}

type portableRing struct {
	jobs        chan job
	completions chan Completion
	done        chan struct{}
	wg          sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func (r *portableRing) worker() {
	defer r.wg.Done()
	for {
		select {
		case j, ok := <-r.jobs:
			if !ok {
				return
			}
			n, err := j.file.ReadAt(j.buf, j.offset)
			res := int32(n)
			if err != nil && !errors.Is(err, io.EOF) {
				res = -int32(syscall.EIO)
				var errno syscall.Errno
				if errors.As(err, &errno) {
					res = -int32(errno)
				}
			}
			select {
			case r.completions <- Completion{UserData: j.userData, Res: res}:
			case <-r.done:
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *portableRing) SubmitRead(userData uint64, file *os.File, buf []byte, offset int64) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case r.jobs <- job{userData: userData, file: file, buf: buf, offset: offset}:
		return nil
	default:
		return ErrRingFull
	}
}

// Submit is a no-op for the portable ring: SubmitRead already dispatches to
// a worker immediately.
func (r *portableRing) Submit() (int, error) {
	return 0, nil
}

func (r *portableRing) PeekCompletions(max int) ([]Completion, error) {
	out := make([]Completion, 0, max)
	for len(out) < max {
		select {
		case c := <-r.completions:
			out = append(out, c)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (r *portableRing) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	return nil
}
