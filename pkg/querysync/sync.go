package querysync

import (
	"errors"
	"log/slog"

	"github.com/param-go/param/pkg/param"
)

// Syncer maintains the sync table of one external location: at most one
// entry per (instance, attribute) pair, each a cycle-safe bidirectional
// binding between the stored value and an external string key.
type Syncer struct {
	loc     Location
	logger  *slog.Logger
	entries map[entryKey]*entry
}

type entryKey struct {
	inst *param.Instance
	attr string
}

type entry struct {
	extKey string
	codec  Codec

	watcher *param.Watcher
	cancel  func()

	// lastWritten is the raw string this entry last wrote or accepted.
	// A subscription delivery carrying it is an echo and is ignored.
	lastWritten string
	hasWritten  bool

	closed bool
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncLogger sets the syncer's logger. Defaults to slog.Default().
func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = logger }
}

// NewSyncer creates a sync table scoped to one external location.
func NewSyncer(loc Location, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		loc:     loc,
		logger:  slog.Default(),
		entries: make(map[entryKey]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncOption configures one Sync call.
type SyncOption func(*syncConfig)

type syncConfig struct {
	codecs map[string]Codec
}

// WithCodec overrides the codec for one attribute in the mapping.
// Required for kinds without a canonical string form.
func WithCodec(attr string, c Codec) SyncOption {
	return func(cfg *syncConfig) { cfg.codecs[attr] = c }
}

// Sync establishes bidirectional entries for each attribute-to-key pair
// in the mapping. If the external location already holds a decodable
// value for a key, that value wins and is written to the instance;
// otherwise the instance's value is serialized out. Syncing a pair that
// is already synced replaces the previous entry, tearing down its
// watchers first.
func (s *Syncer) Sync(inst *param.Instance, mapping map[string]string, opts ...SyncOption) error {
	cfg := syncConfig{codecs: make(map[string]Codec)}
	for _, opt := range opts {
		opt(&cfg)
	}

	for attr, extKey := range mapping {
		spec, ok := inst.Class().Spec(attr)
		if !ok {
			return param.ErrUnknownAttribute
		}
		codec := cfg.codecs[attr]
		if codec == nil {
			var err error
			codec, err = ForSpec(spec)
			if err != nil {
				return err
			}
		}
		if err := s.addEntry(inst, attr, extKey, codec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) addEntry(inst *param.Instance, attr, extKey string, codec Codec) error {
	k := entryKey{inst: inst, attr: attr}
	if old, ok := s.entries[k]; ok {
		s.teardown(old)
		delete(s.entries, k)
	}

	e := &entry{extKey: extKey, codec: codec}

	// Hydrate: a decodable external value wins over the instance value.
	hydrated := false
	if raw, ok := s.loc.Read(extKey); ok {
		if v, err := codec.Decode(raw); err == nil {
			if err := inst.Set(attr, v); err == nil || isWatcherFailure(err) {
				e.lastWritten = raw
				e.hasWritten = true
				hydrated = true
			}
		}
	}
	if !hydrated {
		v, err := inst.Get(attr)
		if err != nil {
			return err
		}
		raw, err := codec.Encode(v)
		if err != nil {
			return err
		}
		s.loc.Write(extKey, raw)
		e.lastWritten = raw
		e.hasWritten = true
	}

	w, err := inst.Dispatcher().Watch(inst, []string{attr}, func(events []param.Event) error {
		s.pushOut(e, events[len(events)-1].New)
		return nil
	})
	if err != nil {
		return err
	}
	e.watcher = w
	e.cancel = s.loc.Subscribe(func(key, value string) {
		if key == e.extKey {
			s.pullIn(inst, attr, e, value)
		}
	})
	s.entries[k] = e
	return nil
}

// pushOut is the instance-to-external direction.
func (s *Syncer) pushOut(e *entry, v any) {
	if e.closed {
		return
	}
	raw, err := e.codec.Encode(v)
	if err != nil {
		s.logger.Warn("querysync: cannot encode value", "key", e.extKey, "err", err)
		return
	}
	if e.hasWritten && raw == e.lastWritten {
		return
	}
	e.lastWritten = raw
	e.hasWritten = true
	s.loc.Write(e.extKey, raw)
}

// pullIn is the external-to-instance direction. Undecodable strings are
// ignored; values rejected by validation are dropped without updating
// the external representation, so the external state is never silently
// rewritten to mask what the viewer supplied.
func (s *Syncer) pullIn(inst *param.Instance, attr string, e *entry, raw string) {
	if e.closed {
		return
	}
	if e.hasWritten && raw == e.lastWritten {
		return
	}
	v, err := e.codec.Decode(raw)
	if err != nil {
		var derr *DecodeError
		if errors.As(err, &derr) {
			s.logger.Debug("querysync: ignoring undecodable external value",
				"key", e.extKey, "raw", raw, "reason", derr.Reason)
			return
		}
		s.logger.Warn("querysync: decode failed", "key", e.extKey, "err", err)
		return
	}
	// Accept the raw form before the write so the resulting watcher
	// firing doesn't push a canonicalized form straight back out.
	prev, prevWritten := e.lastWritten, e.hasWritten
	e.lastWritten = raw
	e.hasWritten = true
	if err := inst.Set(attr, v); err != nil && !isWatcherFailure(err) {
		e.lastWritten, e.hasWritten = prev, prevWritten
		s.logger.Warn("querysync: external value rejected", "key", e.extKey, "attr", attr, "err", err)
	}
}

// Unsync removes all entries for the instance and stops their watchers.
func (s *Syncer) Unsync(inst *param.Instance) {
	for k, e := range s.entries {
		if k.inst == inst {
			s.teardown(e)
			delete(s.entries, k)
		}
	}
}

// Close tears down every entry in the table.
func (s *Syncer) Close() {
	for k, e := range s.entries {
		s.teardown(e)
		delete(s.entries, k)
	}
}

func (s *Syncer) teardown(e *entry) {
	e.closed = true
	e.watcher.Unwatch()
	if e.cancel != nil {
		e.cancel()
	}
}

// isWatcherFailure distinguishes "the write took but a watcher failed"
// from "the write was rejected". Watcher failures leave the stored value
// updated, so the sync entry treats them as accepted writes.
func isWatcherFailure(err error) bool {
	var be *param.BatchError
	return errors.As(err, &be)
}
