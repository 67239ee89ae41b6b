// Package pending implements the queue of source URLs waiting to be
// registered by the scheduler.
package pending

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Queue is a newline-delimited file of URLs. Producers append with Enqueue;
// the scheduler consumes everything at once with Drain.
type Queue struct {
	path string

	mu     sync.Mutex
	signal chan struct{}
}

// New creates a Queue backed by the file at path. The file is created on
// first Enqueue.
func New(path string) *Queue {
	return &Queue{
		path:   path,
		signal: make(chan struct{}, 1),
	}
}

// Signal is notified, without blocking, whenever URLs are enqueued.
func (q *Queue) Signal() <-chan struct{} {
	return q.signal
}

// Enqueue appends urls to the queue. Blank values are skipped.
func (q *Queue) Enqueue(urls ...string) (int, error) {
	var buf bytes.Buffer
	n := 0
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		buf.WriteString(u)
		buf.WriteByte('\n')
		n++
	}
	if n == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open pending queue: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("append pending queue: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close pending queue: %w", err)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return n, nil
}

// Pending reports whether the queue file holds any data. Unlike Signal it
// also sees URLs appended by other processes.
func (q *Queue) Pending() (bool, error) {
	fi, err := os.Stat(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat pending queue: %w", err)
	}
	return fi.Size() > 0, nil
}

// Drain returns the queued URLs in order, without duplicates, and empties
// the queue. A missing file is an empty queue. The file is only truncated
// once it has been parsed.
func (q *Queue) Drain() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending queue: %w", err)
	}

	seen := make(map[string]bool)
	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), len(data)+1)
	for sc.Scan() {
		u := strings.TrimSpace(sc.Text())
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse pending queue: %w", err)
	}

	if err := os.Truncate(q.path, 0); err != nil {
		return nil, fmt.Errorf("truncate pending queue: %w", err)
	}
	return urls, nil
}
