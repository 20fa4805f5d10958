// Package files stores uploaded seller exports and finds them again.
//
// UploadStore streams a request body to <data>/uploads/<id><ext>, enforcing a
// size limit and computing a BLAKE2b-256 checksum on the way. It implements
// ingest.Opener, so an upload id can be used as the source of a parse
// command:
//
//	store, _ := files.NewUploadStore(paths.UploadsDir, cfg.Ingest.MaxUploadBytes, logger)
//	up, err := store.Save(ctx, "orders.csv", r.Body)
//	worker := ingest.NewWorker(ingest.WorkerConfig{Opener: store})
//
// Discovery lists the data files already on disk.
package files
