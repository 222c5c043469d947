package resvfs

import "sync/atomic"

// loadPhase is one state of the per-load state machine.
type loadPhase int32

const (
	phaseOpened loadPhase = iota
	phaseReadingRaw
	phaseDecompressingInline
	phaseDecompressingStream
	phaseFinalizing
	phaseReady
	phaseFailed
	phaseCancelled
)

func (p loadPhase) String() string {
	switch p {
	case phaseOpened:
		return "Opened"
	case phaseReadingRaw:
		return "ReadingRaw"
	case phaseDecompressingInline:
		return "DecompressingInline"
	case phaseDecompressingStream:
		return "DecompressingStream"
	case phaseFinalizing:
		return "Finalizing"
	case phaseReady:
		return "Ready"
	case phaseFailed:
		return "Failed"
	case phaseCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// finalizeFunc turns raw (decompressed, if applicable) bytes into whatever
// payload belongs in the slot (a texture handle, a parsed font, ...). It
// always runs on the thread calling Sync/Wait, never on an I/O or
// decompression worker.
type finalizeFunc func(raw []byte) (slot, error)

// loadState is the heap-lived record driving one outstanding load, shared
// by at most one slot and by the async reads it has in flight: one for a
// whole-buffer load, up to readAhead chunk reads for a streaming load.
type loadState struct {
	manager          *Manager
	slotID           ResourceID
	path             Path
	layer            FileLayer
	fileRef          FileRef
	baseOff          int64
	rawLen           int64 // on-disk, possibly-compressed length
	uncompressedSize int64
	compressed       bool
	codecName        string

	mark Mark

	finalize finalizeFunc
	cancel   *DefaultCancelable

	phase atomic.Int32

	buffer     []byte
	readTicket asyncTicket
	retried    bool
	resultErr  error

	// streaming holds the chunked-read bookkeeping for a "background +
	// streaming" compressed load (Config.backgroundEnabled()). It is set
	// even when the pool has no free worker at submit time, in which case
	// the Sync/Wait pump steps the chunks itself. It stays nil for
	// uncompressed loads and for compressed loads with background
	// decompression disabled, which go through the plain
	// whole-buffer-then-inline-decompress path.
	stream *streamState
}

// streamState is the chunked-read/incremental-decompress state for one
// streaming load: at most readAhead chunk reads are outstanding at a time,
// each decompressed into codecOut as soon as it completes, so a compressed
// package is never held fully in memory at once.
type streamState struct {
	chunkSize int
	readAhead int

	rawPos  int64 // bytes of compressed input submitted for reading so far
	pending []streamChunk

	codec      Decompressor
	codecState any
	codecInit  bool
	codecOut   []byte
	codecDone  bool
}

type streamChunk struct {
	ticket asyncTicket
	buf    []byte
	offset int64
}

func newLoadState(m *Manager, id ResourceID, path Path, mark Mark, fin finalizeFunc) *loadState {
	ls := &loadState{
		manager:  m,
		slotID:   id,
		path:     path,
		mark:     mark,
		finalize: fin,
		cancel:   NewCancelable(nil),
	}
	ls.phase.Store(int32(phaseOpened))
	return ls
}

func (ls *loadState) getPhase() loadPhase  { return loadPhase(ls.phase.Load()) }
func (ls *loadState) setPhase(p loadPhase) { ls.phase.Store(int32(p)) }

func (ls *loadState) isTerminal() bool {
	switch ls.getPhase() {
	case phaseReady, phaseFailed, phaseCancelled:
		return true
	default:
		return false
	}
}

// fail transitions to Failed, recording err. Permanent read errors, short
// reads, decompression errors, and finalizer errors all land here.
func (ls *loadState) fail(err error) {
	ls.finishStreamCodec()
	ls.resultErr = err
	ls.setPhase(phaseFailed)
}

// markCancelled transitions to Cancelled; the slot has already been freed by
// the time this runs.
func (ls *loadState) markCancelled() {
	ls.finishStreamCodec()
	ls.setPhase(phaseCancelled)
	ls.buffer = nil
}

// finishStreamCodec calls the streaming codec's Finish exactly once, if
// Init ever ran for this load. Safe to call from fail/markCancelled even
// when ls.stream is nil (a non-streaming load) or decompression already
// ran to completion.
func (ls *loadState) finishStreamCodec() {
	if ls.stream == nil || !ls.stream.codecInit {
		return
	}
	ls.stream.codec.Finish(ls.stream.codecState)
	ls.stream.codecInit = false
}
