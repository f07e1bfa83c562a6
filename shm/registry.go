package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/sirupsen/logrus"
)

// NodeRegistryName is the region holding every node on the host.
const NodeRegistryName = "JNodeRegistry"

const (
	registryCountSize = 2
	registryEntrySize = 2
	registrySize      = registryCountSize + limits.MaxRegistryEntries*registryEntrySize
)

// ComponentRegistryName returns the region holding the components of one node.
func ComponentRegistryName(subsystem, node byte) string {
	return fmt.Sprintf("JComponentRegistry_%03d.%03d", subsystem, node)
}

type entry [registryEntrySize]byte

// Registry is a shared directory of the nodes on a host or the components on
// a node. Entries are unique and limited to 255.
type Registry struct {
	region    *Region
	component bool
	subsystem byte
	node      byte
}

// NewNodeRegistry opens the host's node registry, creating it if needed.
// Entries are (subsystem, node) pairs.
func NewNodeRegistry(opts ...Option) (*Registry, error) {
	region, err := openOrCreate(buildOptions(opts).dir, NodeRegistryName)
	if err != nil {
		return nil, err
	}
	return &Registry{region: region}, nil
}

// NewComponentRegistry opens the registry for node subsystem.node, creating
// it if needed. Entries are (component, instance) pairs and only ids on that
// node may register.
func NewComponentRegistry(subsystem, node byte, opts ...Option) (*Registry, error) {
	if !validField(subsystem) || !validField(node) {
		return nil, fmt.Errorf("%w: node %d.%d", jaus.ErrInvalidAddress, subsystem, node)
	}
	region, err := openOrCreate(buildOptions(opts).dir, ComponentRegistryName(subsystem, node))
	if err != nil {
		return nil, err
	}
	return &Registry{region: region, component: true, subsystem: subsystem, node: node}, nil
}

func openOrCreate(dir, name string) (*Region, error) {
	region, err := CreateRegion(dir, name, registrySize, nil)
	if errors.Is(err, ErrRegionExists) {
		return OpenRegion(dir, name, registrySize)
	}
	if err != nil {
		return nil, err
	}
	// Registries outlive whichever process happened to create them.
	region.owner = false
	return region, nil
}

// Name returns the registry's region name.
func (r *Registry) Name() string { return r.region.Name() }

// Register adds id. Registering an id that is already present succeeds
// without adding a second entry.
func (r *Registry) Register(id jaus.Address) error {
	e, err := r.entryFor(id)
	if err != nil {
		return err
	}
	if err := r.region.Lock(); err != nil {
		return err
	}
	defer r.region.Unlock()

	entries := r.entries()
	for _, have := range entries {
		if have == e {
			return nil
		}
	}
	n := len(entries)
	if n >= limits.MaxRegistryEntries {
		return fmt.Errorf("%w: %s holds %d entries", ErrRegistryFull, r.Name(), n)
	}
	b := r.region.Bytes()
	copy(b[registryCountSize+n*registryEntrySize:], e[:])
	binary.LittleEndian.PutUint16(b, uint16(n+1))

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Register",
		"registry": r.Name(),
		"id":       id.String(),
	}).Debug("Registered")
	return nil
}

// Unregister removes id, shifting later entries down.
func (r *Registry) Unregister(id jaus.Address) error {
	e, err := r.entryFor(id)
	if err != nil {
		return err
	}
	if err := r.region.Lock(); err != nil {
		return err
	}
	defer r.region.Unlock()

	entries := r.entries()
	for i, have := range entries {
		if have != e {
			continue
		}
		b := r.region.Bytes()
		from := registryCountSize + (i+1)*registryEntrySize
		to := registryCountSize + len(entries)*registryEntrySize
		copy(b[from-registryEntrySize:], b[from:to])
		binary.LittleEndian.PutUint16(b, uint16(len(entries)-1))
		return nil
	}
	return fmt.Errorf("%w: %s in %s", ErrNotRegistered, id, r.Name())
}

// IsRegistered reports whether id is present. The scan runs on a snapshot so
// the lock is held only for the copy.
func (r *Registry) IsRegistered(id jaus.Address) bool {
	e, err := r.entryFor(id)
	if err != nil {
		return false
	}
	entries, err := r.snapshot()
	if err != nil {
		return false
	}
	for _, have := range entries {
		if have == e {
			return true
		}
	}
	return false
}

// GetRegistry returns every entry as an address. Node registry entries
// carry broadcast component and instance fields.
func (r *Registry) GetRegistry() ([]jaus.Address, error) {
	entries, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]jaus.Address, 0, len(entries))
	for _, e := range entries {
		if r.component {
			out = append(out, jaus.NewAddress(r.subsystem, r.node, e[0], e[1]))
		} else {
			out = append(out, jaus.NewAddress(e[0], e[1], jaus.AddressBroadcast, jaus.AddressBroadcast))
		}
	}
	return out, nil
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	if err := r.region.Lock(); err != nil {
		return 0
	}
	defer r.region.Unlock()
	return r.count()
}

// Close unmaps the registry. The region itself persists for other processes.
func (r *Registry) Close() error { return r.region.Close() }

// Remove unlinks the registry region. Processes that still map it keep their
// view; the next opener starts from an empty registry.
func (r *Registry) Remove() error {
	dir := filepath.Dir(r.region.Path())
	return RemoveRegion(dir, r.Name())
}

func (r *Registry) entryFor(id jaus.Address) (entry, error) {
	if r.component {
		if id.Subsystem != r.subsystem || id.Node != r.node {
			return entry{}, fmt.Errorf("%w: %s not on node %d.%d", ErrOutOfScope, id, r.subsystem, r.node)
		}
		if !validField(id.Component) || !validField(id.Instance) {
			return entry{}, fmt.Errorf("%w: %s", jaus.ErrInvalidAddress, id)
		}
		return entry{id.Component, id.Instance}, nil
	}
	if !validField(id.Subsystem) || !validField(id.Node) {
		return entry{}, fmt.Errorf("%w: %s", jaus.ErrInvalidAddress, id)
	}
	return entry{id.Subsystem, id.Node}, nil
}

func (r *Registry) snapshot() ([]entry, error) {
	if err := r.region.Lock(); err != nil {
		return nil, err
	}
	defer r.region.Unlock()
	return r.entries(), nil
}

// entries copies the live entries. The caller holds the lock.
func (r *Registry) entries() []entry {
	b := r.region.Bytes()
	n := r.count()
	out := make([]entry, n)
	for i := range out {
		off := registryCountSize + i*registryEntrySize
		out[i] = entry{b[off], b[off+1]}
	}
	return out
}

// count reads the entry count, clamped to capacity. The caller holds the lock.
func (r *Registry) count() int {
	n := int(binary.LittleEndian.Uint16(r.region.Bytes()))
	if n > limits.MaxRegistryEntries {
		n = limits.MaxRegistryEntries
	}
	return n
}

func validField(b byte) bool {
	return b != jaus.AddressInvalid && b != jaus.AddressBroadcast
}
