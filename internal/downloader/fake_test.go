package downloader

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"volume-drain/internal/storage"
)

var errDeleteRefused = errors.New("delete refused")

// memStore is an in-memory storage.Service with per-key failure injection.
type memStore struct {
	mu           sync.Mutex
	objects      map[string]string
	bucketErr    error
	listErrs     map[string]error
	downloadErrs map[string]error
	// failDelete makes the next n deletes of a key fail
	failDelete  map[string]int
	panicOnList bool
	onList      func(prefix string)
	calls       []string
}

func newMemStore(keys ...string) *memStore {
	s := &memStore{
		objects:      map[string]string{},
		listErrs:     map[string]error{},
		downloadErrs: map[string]error{},
		failDelete:   map[string]int{},
	}
	for _, k := range keys {
		s.objects[k] = "content of " + k
	}
	return s
}

func (s *memStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *memStore) recorded(op string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if rest, ok := strings.CutPrefix(c, op+" "); ok {
			out = append(out, rest)
		}
	}
	return out
}

func (s *memStore) CheckBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("check")
	return s.bucketErr
}

func (s *memStore) ListChildren(ctx context.Context, prefix string) (storage.Listing, error) {
	s.mu.Lock()
	s.record("list " + prefix)
	if s.panicOnList {
		s.mu.Unlock()
		panic("listing exploded")
	}
	onList := s.onList
	err := s.listErrs[prefix]
	if err == nil {
		err = s.bucketErr
	}
	listing := storage.Listing{Prefix: prefix}
	seen := map[string]bool{}
	sizes := make(map[string]int64, len(s.objects))
	keys := make([]string, 0, len(s.objects))
	for k, body := range s.objects {
		keys = append(keys, k)
		sizes[k] = int64(len(body))
	}
	s.mu.Unlock()

	if onList != nil {
		onList(prefix)
	}
	if err != nil {
		return storage.Listing{}, err
	}

	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			sub := prefix + rest[:i+1]
			if !seen[sub] {
				seen[sub] = true
				listing.SubPrefixes = append(listing.SubPrefixes, sub)
			}
			continue
		}
		listing.Objects = append(listing.Objects, storage.ObjectInfo{
			Key:  k,
			Size: sizes[k],
		})
	}
	return listing, nil
}

func (s *memStore) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	s.mu.Lock()
	s.record("download " + key)
	body, ok := s.objects[key]
	err := s.downloadErrs[key]
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	n, err := dst.WriteAt([]byte(body), 0)
	return int64(n), err
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete " + key)
	if s.failDelete[key] > 0 {
		s.failDelete[key]--
		return errDeleteRefused
	}
	delete(s.objects, key)
	return nil
}

var _ storage.Service = (*memStore)(nil)

func newMirror(t *testing.T) *storage.LocalMirror {
	t.Helper()
	m, err := storage.NewLocalMirror(filepath.Join(t.TempDir(), "downloads"))
	require.NoError(t, err)
	return m
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func hasMessage(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

func keysOf(objects []storage.ObjectInfo) []string {
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys
}
