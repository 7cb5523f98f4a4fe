// Package vecstore is the vector-storage layer of an embedded vector
// similarity database.
//
// A Manager owns the storages of one segment: a shared column database and
// one vector storage per configured vector name. Each storage is either
// dense (in memory, written behind to a column) or memmap (an append-only
// matrix file on disk). Storages can be migrated between the two kinds.
//
// # Quick Start
//
//	cfg := vecstore.Config{
//	    Path: "./segment",
//	    Vectors: map[string]vecstore.VectorConfig{
//	        "text": {Dim: 4, Distance: distance.Cosine},
//	    },
//	}
//	m, _ := vecstore.Open(ctx, cfg)
//	defer m.Close()
//
//	_ = m.Insert(ctx, "text", 0, []float32{1, 0, 1, 1})
//	_ = m.Migrate(ctx, "text", vectorstore.KindMemmap)
//	_ = m.Flush(ctx)
//
// # Durability Model
//
// Writes reach the column database or the mapped files immediately but are
// only durable after Flush. Config.FlushEveryOps bounds the number of
// unflushed writes; the flush runs on the writing goroutine.
//
// # Snapshots
//
// Snapshot writes a checksummed archive of all storage files and the column
// database; Restore rebuilds a segment from one. Archives can be streamed to
// any blobstore.Store (local, S3, MinIO).
package vecstore
