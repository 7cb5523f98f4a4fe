package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore"
	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/blobstore/minio"
	"github.com/hupe1980/vecstore/blobstore/s3"
	"github.com/hupe1980/vecstore/snapshot"
)

func newSnapshotCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create and restore segment snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(g),
		newSnapshotRestoreCmd(g),
		newSnapshotUploadCmd(g),
		newSnapshotDownloadCmd(g),
	)
	return cmd
}

func newSnapshotCreateCmd(g *globalFlags) *cobra.Command {
	var compression string

	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Write a snapshot archive to a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			c, err := snapshot.ParseCompression(compression)
			if err != nil {
				return err
			}
			m, err := g.openManager(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, m.Close()) }()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			sm, err := m.Snapshot(cmd.Context(), f, c)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(args[0])
				return err
			}
			printManifest(cmd, sm)
			return nil
		},
	}
	cmd.Flags().StringVar(&compression, "compression", string(snapshot.Zstd), "none, zstd, lz4 or snappy")
	return cmd
}

func newSnapshotRestoreCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a snapshot archive into the configured segment path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return restore(cmd, g, f)
		},
	}
}

func restore(cmd *cobra.Command, g *globalFlags, r io.Reader) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	logger, err := g.logger()
	if err != nil {
		return err
	}
	m, err := vecstore.Restore(cmd.Context(), r, cfg, vecstore.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d vector storages into %s\n", len(m.Vectors()), cfg.Path)
	return m.Close()
}

// storeFlags select a blob store.
type storeFlags struct {
	kind     string
	bucket   string
	prefix   string
	dir      string
	endpoint string
	insecure bool
}

func (s *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.kind, "store", "local", "blob store: local, s3 or minio")
	cmd.Flags().StringVar(&s.bucket, "bucket", "", "bucket name (s3, minio)")
	cmd.Flags().StringVar(&s.prefix, "prefix", "", "key prefix (s3, minio)")
	cmd.Flags().StringVar(&s.dir, "dir", "snapshots", "directory (local)")
	cmd.Flags().StringVar(&s.endpoint, "endpoint", "localhost:9000", "endpoint (minio)")
	cmd.Flags().BoolVar(&s.insecure, "insecure", false, "disable TLS (minio)")
}

func (s *storeFlags) open(ctx context.Context) (blobstore.Store, error) {
	switch s.kind {
	case "local":
		return blobstore.NewLocalStore(s.dir), nil
	case "s3":
		if s.bucket == "" {
			return nil, errors.New("--bucket is required for s3")
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return s3.NewStore(awss3.NewFromConfig(cfg), s.bucket, s.prefix), nil
	case "minio":
		if s.bucket == "" {
			return nil, errors.New("--bucket is required for minio")
		}
		client, err := miniogo.New(s.endpoint, &miniogo.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: !s.insecure,
		})
		if err != nil {
			return nil, err
		}
		return minio.NewStore(client, s.bucket, s.prefix), nil
	default:
		return nil, fmt.Errorf("unknown store %q", s.kind)
	}
}

func newSnapshotUploadCmd(g *globalFlags) *cobra.Command {
	var (
		sf          storeFlags
		name        string
		compression string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Stream a snapshot archive to a blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			c, err := snapshot.ParseCompression(compression)
			if err != nil {
				return err
			}
			store, err := sf.open(cmd.Context())
			if err != nil {
				return err
			}
			if name == "" {
				name = fmt.Sprintf("snapshot-%s.tar.%s", time.Now().UTC().Format("20060102T150405Z"), c)
			}

			m, err := g.openManager(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, m.Close()) }()

			var sm *snapshot.Manifest
			err = snapshot.Upload(cmd.Context(), store, name, func(w io.Writer) error {
				var err error
				sm, err = m.Snapshot(cmd.Context(), w, c)
				return err
			})
			if err != nil {
				return err
			}
			printManifest(cmd, sm)
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded to %s:%s\n", sf.kind, name)
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "blob name (default: timestamped)")
	cmd.Flags().StringVar(&compression, "compression", string(snapshot.Zstd), "none, zstd, lz4 or snappy")
	return cmd
}

func newSnapshotDownloadCmd(g *globalFlags) *cobra.Command {
	var sf storeFlags

	cmd := &cobra.Command{
		Use:   "download <name>",
		Short: "Restore a snapshot archive from a blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sf.open(cmd.Context())
			if err != nil {
				return err
			}
			rc, err := store.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return restore(cmd, g, rc)
		},
	}
	sf.register(cmd)
	return cmd
}

func printManifest(cmd *cobra.Command, sm *snapshot.Manifest) {
	fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d files, %d bytes, %s\n",
		sm.ID, len(sm.Entries), sm.TotalSize(), sm.Compression)
}
