package adapter

import "go.gazette.dev/sync/ids"

// StorageAdapter is the sub-interface a storage-kind Adapter implements in
// addition to Adapter. Persisted state is an opaque blob keyed by DocID;
// version equality on reload is the storage layer's only contract with the
// Synchronizer -- it does not interpret the bytes it holds.
//
// A storage-kind Adapter's channels (see channel.KindStorage) drive the
// same establishment/sync-request/sync-response exchange as a network
// channel: on startup it issues a sync-request for every locally known
// DocID against its own persisted version, and answers sync-response with
// whatever ExportSince/Snapshot the Synchronizer computes, which the
// adapter then hands to SaveSnapshot. No concrete storage-kind Adapter
// ships in this module; adapter/inproc and adapter/grpcadapter are both
// network-kind.
type StorageAdapter interface {
	Adapter

	// LoadSnapshot returns the last persisted blob for docID, or
	// (nil, false, nil) if nothing has been saved yet.
	LoadSnapshot(docID ids.DocID) (data []byte, ok bool, err error)
	// SaveSnapshot durably replaces the persisted blob for docID.
	SaveSnapshot(docID ids.DocID, data []byte) error
	// DeleteSnapshot removes any persisted blob for docID. It is a no-op
	// if nothing was persisted.
	DeleteSnapshot(docID ids.DocID) error
}
