package sandbox

import (
	"sync"

	"github.com/wasi-warden/warden/internal/capability"
)

// Handle is the opaque integer token vended to the guest. Handle 1 is
// always the workspace root directory handle (§3, "vended as handle 1 at
// the guest's request").
type Handle uint32

const WorkspaceHandle Handle = 1

// DirEntry binds a directory handle to its canonicalized absolute host path.
type DirEntry struct {
	Path string
}

// ProcEntry binds a pid handle to its tracked child process.
type ProcEntry struct {
	Process *capability.Process
}

// SessionEntry binds a browser session handle to its owning browser page and
// the set of element handles it owns.
type SessionEntry struct {
	Session  BrowserSession
	Elements map[Handle]bool
}

// ElementEntry binds an element handle to its owning session and the
// located element reference.
type ElementEntry struct {
	Session Handle
	Element BrowserElement
}

// BrowserSession and BrowserElement are satisfied by the go-rod backed
// implementations in internal/capability/browser.go. They are declared here,
// not there, because the handle tables (not the capability layer) own
// resource lifetime per §3's Sandbox Instance invariant.
type BrowserSession interface {
	Close() error
}

type BrowserElement interface{}

// HandleTable is the per-task bookkeeping the Sandbox owns: directory,
// process, session, and element handles, plus the guest's symbolic alias
// map. None of this is shared across sandboxes; a handle is only ever
// resolved against the table of the Sandbox that issued it.
type HandleTable struct {
	mu sync.Mutex

	nextHandle Handle
	dirs       map[Handle]DirEntry
	procs      map[Handle]ProcEntry
	sessions   map[Handle]SessionEntry
	elements   map[Handle]ElementEntry

	// sessionOrder preserves creation order so teardown closes sessions in
	// the order §4.2.3 requires.
	sessionOrder []Handle

	aliases map[string]Handle

	// screenshots holds captured bytes directly under their alias. Unlike
	// handles, screenshots have no retrieval operation in the minimum spec
	// (§4.2.3); nothing in the host reads them back once stored.
	screenshots map[string][]byte
}

// NewHandleTable creates an empty table with the workspace root pre-vended
// at handle 1.
func NewHandleTable(workspaceRoot string) *HandleTable {
	t := &HandleTable{
		nextHandle:  WorkspaceHandle + 1,
		dirs:        make(map[Handle]DirEntry),
		procs:       make(map[Handle]ProcEntry),
		sessions:    make(map[Handle]SessionEntry),
		elements:    make(map[Handle]ElementEntry),
		aliases:     make(map[string]Handle),
		screenshots: make(map[string][]byte),
	}
	t.dirs[WorkspaceHandle] = DirEntry{Path: workspaceRoot}
	return t
}

func (t *HandleTable) allocate() Handle {
	h := t.nextHandle
	t.nextHandle++
	return h
}

// OpenWorkspace returns the pre-vended workspace handle. Idempotent by
// construction: it is a constant.
func (t *HandleTable) OpenWorkspace() Handle {
	return WorkspaceHandle
}

// Dir resolves a directory handle, or UnknownHandle if it was never vended.
func (t *HandleTable) Dir(h Handle) (DirEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.dirs[h]
	if !ok {
		return DirEntry{}, capability.Errf(capability.UnknownHandle, "unknown directory handle %d", h)
	}
	return e, nil
}

// AddProcess registers a spawned process and returns its pid handle.
func (t *HandleTable) AddProcess(p *capability.Process) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.allocate()
	t.procs[h] = ProcEntry{Process: p}
	return h
}

// Process resolves a pid handle, or UnknownHandle if unknown.
func (t *HandleTable) Process(h Handle) (*capability.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.procs[h]
	if !ok {
		return nil, capability.Errf(capability.UnknownHandle, "unknown pid handle %d", h)
	}
	return e.Process, nil
}

// AddSession registers a new browser session and returns its handle.
func (t *HandleTable) AddSession(s BrowserSession) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.allocate()
	t.sessions[h] = SessionEntry{Session: s, Elements: make(map[Handle]bool)}
	t.sessionOrder = append(t.sessionOrder, h)
	return h
}

// Session resolves a session handle, or UnknownHandle if unknown.
func (t *HandleTable) Session(h Handle) (BrowserSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[h]
	if !ok {
		return nil, capability.Errf(capability.UnknownHandle, "unknown session handle %d", h)
	}
	return e.Session, nil
}

// CloseSession closes a session and drops every element handle it owns,
// per §4.2.3's lifecycle invariant.
func (t *HandleTable) CloseSession(h Handle) error {
	t.mu.Lock()
	entry, ok := t.sessions[h]
	if !ok {
		t.mu.Unlock()
		return capability.Errf(capability.UnknownHandle, "unknown session handle %d", h)
	}
	for eh := range entry.Elements {
		delete(t.elements, eh)
	}
	delete(t.sessions, h)
	for alias, bound := range t.aliases {
		if bound == h {
			delete(t.aliases, alias)
		} else if _, isElem := entry.Elements[bound]; isElem {
			delete(t.aliases, alias)
		}
	}
	t.mu.Unlock()
	return entry.Session.Close()
}

// AddElement registers a located DOM element under its owning session and
// returns its handle.
func (t *HandleTable) AddElement(session Handle, el BrowserElement) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.sessions[session]
	if !ok {
		return 0, capability.Errf(capability.UnknownHandle, "unknown session handle %d", session)
	}
	h := t.allocate()
	t.elements[h] = ElementEntry{Session: session, Element: el}
	entry.Elements[h] = true
	return h, nil
}

// StoreScreenshot records captured bytes under alias, overwriting any prior
// capture at the same alias.
func (t *HandleTable) StoreScreenshot(alias string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screenshots[alias] = data
}

// Element resolves an element handle, or UnknownHandle if unknown.
func (t *HandleTable) Element(h Handle) (BrowserElement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.elements[h]
	if !ok {
		return nil, capability.Errf(capability.UnknownHandle, "unknown element handle %d", h)
	}
	return e.Element, nil
}

// BindAlias records alias → h, evicting any prior binding. When the evicted
// handle is a browser session, that session is closed along with its
// element handles (the "alias reuse" behavior of §8 scenario 6). An evicted
// process, element, or directory handle is not closed and stays in its table.
func (t *HandleTable) BindAlias(alias string, h Handle) error {
	if alias == "" {
		return nil
	}
	t.mu.Lock()
	prev, existed := t.aliases[alias]
	t.aliases[alias] = h
	t.mu.Unlock()

	if !existed || prev == h {
		return nil
	}
	if _, err := t.Session(prev); err == nil {
		return t.CloseSession(prev)
	}
	return nil
}

// ResolveAlias looks up a guest-chosen alias. Unknown aliases fail with
// UnknownAlias, never UnknownHandle, so the executor can distinguish "never
// bound" from "bound, then the handle expired".
func (t *HandleTable) ResolveAlias(alias string) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.aliases[alias]
	if !ok {
		return 0, capability.Errf(capability.UnknownAlias, "unknown alias %q", alias)
	}
	return h, nil
}

// Teardown releases every resource the table still owns: closes browser
// sessions in creation order, then kills any processes still tracked. It
// implements the Sandbox Instance destructor invariant of §3.
func (t *HandleTable) Teardown() {
	t.mu.Lock()
	order := append([]Handle(nil), t.sessionOrder...)
	procs := make([]*capability.Process, 0, len(t.procs))
	for _, e := range t.procs {
		procs = append(procs, e.Process)
	}
	t.mu.Unlock()

	for _, h := range order {
		_ = t.CloseSession(h)
	}
	for _, p := range procs {
		p.Kill()
	}
}
