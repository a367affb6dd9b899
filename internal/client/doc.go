// Package client exposes the flow engine as a blocking and a non-blocking API.
//
// SyncClient runs every operation on the caller's goroutine and returns its
// result. AsyncClient submits the same operations to a work Executor and
// reports each result through a callback dispatched on a callback Executor:
//
//	async := client.NewAsyncClient(client.NewSyncClient(engine, browser))
//	defer async.Close()
//
//	op := async.Refresh(ctx, func(token *oauth.Token, err error) {
//	    // runs on the callback executor
//	})
//	op.Cancel() // the callback is not invoked after a successful Cancel
//
// The default callback executor is a SerialExecutor, which runs callbacks one
// at a time in submission order on a single goroutine, the way a UI event
// loop would.
//
// Neither surface retries. A failure is reported as the typed error from
// pkg/oauth and the stored state stays as it was last persisted.
package client
