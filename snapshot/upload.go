package snapshot

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecstore/blobstore"
)

// Upload streams the archive produced by write into store under name.
func Upload(ctx context.Context, store blobstore.Store, name string, write func(w io.Writer) error) error {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := write(pw)
		_ = pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := store.Put(gctx, name, pr)
		// Unblocks the writer if the store stopped reading early.
		_ = pr.CloseWithError(err)
		return err
	})

	return g.Wait()
}

// Download restores the archive stored under name into dir.
func Download(ctx context.Context, store blobstore.Store, name, dir string, opts RestoreOptions) (*Manifest, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Restore(ctx, rc, dir, opts)
}
