package provider

import (
	"reflect"

	"github.com/streamtune/acl"
)

// trackedChange is one dirty property: the value recorded the first time
// this property changed during the current session, and its latest value.
type trackedChange struct {
	old, new any
}

// changeLog is the per-Acl change record described in spec §4.7: one entry
// per dirty Acl-level property, plus a per-Ace submap for dirty Ace
// properties (mask, strategy, auditSuccess, auditFailure).
type changeLog struct {
	props map[string]trackedChange
	aces  map[acl.Ace]map[string]trackedChange
}

func newChangeLog() *changeLog {
	return &changeLog{props: map[string]trackedChange{}, aces: map[acl.Ace]map[string]trackedChange{}}
}

func (l *changeLog) dirty() bool {
	return len(l.props) > 0 || len(l.aces) > 0
}

// track registers a as a change-tracking target and installs the listener
// that routes every property-change event on a (and its Aces) through
// onPropertyChanged (spec §4.7, "Registered as a property-change listener
// on every mutable ACL and ACE returned from findAcls").
func (p *Provider) track(a acl.MutableAcl) {
	if _, ok := p.changes[a]; ok {
		return
	}
	log := newChangeLog()
	p.changes[a] = log
	acl.Listen(a, func(sender any, name string, old, new any) {
		p.onPropertyChanged(log, sender, name, old, new)
	})
}

// onPropertyChanged implements spec §4.7's change-tracking rule. track()
// closes over the log for the exact Acl it was installed on, so every
// sender this callback sees is already tracked by construction — the
// spec's "if sender is not tracked, fail with invalid-argument" case
// cannot arise through this listener and is not modeled here.
func (p *Provider) onPropertyChanged(log *changeLog, sender any, name string, old, new any) {
	if ace, ok := sender.(acl.Ace); ok {
		if _, hasID := ace.GetID(); !hasID {
			return // unpersisted Ace: inserted wholesale, no per-field diff needed
		}
		m := aceLog(log, ace)
		recordChange(m, name, old, new)
		if len(m) == 0 {
			delete(log.aces, ace)
		}
		return
	}
	recordChange(log.props, name, old, new)
}

func aceLog(log *changeLog, ace acl.Ace) map[string]trackedChange {
	m, ok := log.aces[ace]
	if !ok {
		m = map[string]trackedChange{}
		log.aces[ace] = m
	}
	return m
}

// recordChange applies the "revert drops the record" rule: if a property
// returns to the value first recorded as old, the entry is removed instead
// of being kept with old==new.
func recordChange(m map[string]trackedChange, name string, old, new any) {
	existing, ok := m[name]
	if !ok {
		m[name] = trackedChange{old: old, new: new}
		return
	}
	if reflect.DeepEqual(existing.old, new) {
		delete(m, name)
		return
	}
	existing.new = new
	m[name] = existing
}

// forget drops a's change log entirely, used after a successful updateAcl
// commit and after deleteAcl.
func (p *Provider) forget(a acl.MutableAcl) {
	delete(p.changes, a)
}
