package downloader

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"volume-drain/internal/storage"
)

// Lister walks a remote prefix one directory level at a time. The store
// mis-paginates flat recursive listings, so every level gets its own
// delimiter-scoped request.
type Lister struct {
	store  storage.Service
	logger logrus.FieldLogger
}

func NewLister(store storage.Service, logger logrus.FieldLogger) *Lister {
	if logger == nil {
		logger = logrus.New()
	}
	return &Lister{
		store:  store,
		logger: logger,
	}
}

// RootPrefix turns a configured remote folder into a listing prefix. The
// empty folder is the bucket root; only trailing slashes are trimmed.
func RootPrefix(folder string) string {
	if folder == "" {
		return ""
	}
	return strings.TrimRight(folder, "/") + "/"
}

// List returns every object below prefix once, depth first, objects of a
// level before the levels below it. A level that cannot be listed
// contributes nothing; only context cancellation is returned as an error.
// Keys and sub-prefixes the store repeats are dropped.
func (l *Lister) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	pending := []string{prefix}
	seenKeys := map[string]struct{}{}
	seenPrefixes := map[string]struct{}{prefix: {}}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		logger := l.logger.WithField("prefix", current)

		listing, err := l.store.ListChildren(ctx, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			switch {
			case errors.Is(err, storage.ErrBucketNotFound):
				logger.Errorf("network volume not found while listing: %v", err)
			case errors.Is(err, storage.ErrAccessDenied):
				logger.Errorf("access denied while listing: %v", err)
			default:
				logger.Errorf("error listing prefix: %v", err)
			}
			continue
		}

		for _, obj := range listing.Objects {
			// directory markers
			if obj.Key == current || strings.HasSuffix(obj.Key, "/") {
				logger.Debugf("skipping directory marker %s", obj.Key)
				continue
			}
			if _, dup := seenKeys[obj.Key]; dup {
				logger.Debugf("skipping repeated key %s", obj.Key)
				continue
			}
			seenKeys[obj.Key] = struct{}{}
			objects = append(objects, obj)
		}

		// pushed in reverse so sub-prefixes are visited in listing order
		for i := len(listing.SubPrefixes) - 1; i >= 0; i-- {
			sub := listing.SubPrefixes[i]
			if len(sub) <= len(current) || !strings.HasPrefix(sub, current) {
				logger.Warnf("ignoring sub-prefix %q that does not extend its parent", sub)
				continue
			}
			if _, dup := seenPrefixes[sub]; dup {
				continue
			}
			seenPrefixes[sub] = struct{}{}
			pending = append(pending, sub)
		}
	}

	return objects, nil
}
