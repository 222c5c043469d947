package resvfs

import (
	"sync"
)

// fakeFile is one in-memory file registered with fakeLayer.
type fakeFile struct {
	data []byte
}

// fakeLayer is an in-memory FileLayer for tests: every read completes
// synchronously but is still exposed through the async Poll/Wait contract,
// so tests can exercise the same pumping logic production code does.
type fakeLayer struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	refs    map[FileRef]*fakeFile
	nextRef int64

	tickets  map[FileTicket]fakeResult
	nextTick int64

	failOpen       map[string]error
	failRead       map[FileRef]error
	failReadByPath map[string]error
}

type fakeResult struct {
	n   int
	err error
}

func newFakeLayer() *fakeLayer {
	return &fakeLayer{
		files:          make(map[string]*fakeFile),
		refs:           make(map[FileRef]*fakeFile),
		tickets:        make(map[FileTicket]fakeResult),
		failOpen:       make(map[string]error),
		failRead:       make(map[FileRef]error),
		failReadByPath: make(map[string]error),
	}
}

// failReadsFor makes every future read against path (which must already be
// registered via put) fail with err, surfaced asynchronously through
// ReadAsync/PollAsync/WaitAsync rather than at Open time.
func (f *fakeLayer) failReadsFor(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReadByPath[path] = err
}

func (f *fakeLayer) put(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = &fakeFile{data: data}
}

func (f *fakeLayer) Open(path string) (FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOpen[path]; ok {
		return InvalidFileRef, err
	}
	file, ok := f.files[path]
	if !ok {
		return InvalidFileRef, &NotFoundError{Path: Path(path)}
	}
	f.nextRef++
	ref := FileRef(f.nextRef)
	f.refs[ref] = file
	if err, ok := f.failReadByPath[path]; ok {
		f.failRead[ref] = err
	}
	return ref, nil
}

func (f *fakeLayer) Size(ref FileRef) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.refs[ref]
	if !ok {
		return 0, &InvalidArgumentError{Message: "unknown ref"}
	}
	return int64(len(file.data)), nil
}

func (f *fakeLayer) Close(ref FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refs, ref)
	return nil
}

func (f *fakeLayer) ReadAsync(ref FileRef, buf []byte, offset int64, length int) (FileTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.refs[ref]
	if !ok {
		return 0, &InvalidArgumentError{Message: "unknown ref"}
	}
	f.nextTick++
	ticket := FileTicket(f.nextTick)

	if err, ok := f.failRead[ref]; ok {
		f.tickets[ticket] = fakeResult{err: err}
		return ticket, nil
	}

	end := offset + int64(length)
	if end > int64(len(file.data)) {
		end = int64(len(file.data))
	}
	if offset > int64(len(file.data)) {
		offset = int64(len(file.data))
	}
	n := copy(buf, file.data[offset:end])
	f.tickets[ticket] = fakeResult{n: n}
	return ticket, nil
}

func (f *fakeLayer) PollAsync(ticket FileTicket) (int, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.tickets[ticket]
	if !ok {
		return 0, &InvalidArgumentError{Message: "unknown ticket"}, true
	}
	return res.n, res.err, true
}

func (f *fakeLayer) WaitAsync(ticket FileTicket) (int, error) {
	n, err, _ := f.PollAsync(ticket)
	return n, err
}

func (f *fakeLayer) CancelAsync(ticket FileTicket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tickets, ticket)
}

// ListDir derives entries (files and intermediate directories alike) from
// the set of registered file paths whose prefix, component by component,
// matches path.
func (f *fakeLayer) ListDir(path string) ([]DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentNames := Path(path).Names()
	seen := make(map[string]bool)
	var out []DirEntry
	for p := range f.files {
		names := Path(p).Names()
		if len(names) <= len(parentNames) {
			continue
		}
		match := true
		for i, n := range parentNames {
			if names[i] != n {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		name := names[len(parentNames)]
		if !seen[name] {
			seen[name] = true
			out = append(out, DirEntry{Name: name, IsDir: len(names) > len(parentNames)+1})
		}
	}
	return out, nil
}
