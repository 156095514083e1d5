// Package correlation implements the detector that searches the event window
// for events plausibly related to a newly admitted one. Four strategies run
// per trigger event: explicit causal hints, inherited correlation ids,
// temporal proximity, and tag similarity. Proposals over the same member set
// are merged by weighted maximum rather than sum, so overlapping strategies
// never inflate the combined strength.
package correlation

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/window"
)

// Detector runs the enabled strategies against one partition's window. It is
// owned by a single partition worker and is not safe for concurrent use.
type Detector struct {
	cfg        Config
	strategies []Strategy
	registry   *dedupRegistry
	now        func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithNowFunc overrides the clock used for detection timestamps and dedup
// registry pruning.
func WithNowFunc(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector creates a detector with the enabled strategies in evaluation
// order: hint-based strategies first, statistical ones after. retention
// bounds how long promoted member sets are remembered for deduplication and
// should match the window's maximum age.
func NewDetector(cfg Config, retention time.Duration, opts ...Option) *Detector {
	d := &Detector{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registry = newDedupRegistry(retention, d.now)

	if cfg.Causal.Enabled {
		d.strategies = append(d.strategies, NewCausalStrategy(cfg.Causal))
	}
	if cfg.Inherited.Enabled {
		d.strategies = append(d.strategies, NewInheritedStrategy(cfg.Inherited))
	}
	if cfg.Temporal.Enabled {
		d.strategies = append(d.strategies, NewTemporalStrategy(cfg.Temporal))
	}
	if cfg.Similarity.Enabled {
		d.strategies = append(d.strategies, NewSimilarityStrategy(cfg.Similarity))
	}
	return d
}

// candidate accumulates strategy proposals that resolved to the same member
// set.
type candidate struct {
	members  map[string]*models.NormalizedEvent
	links    map[string]models.CausalLink
	strength float64
	ctype    models.CorrelationType
	order    int // evaluation order of the dominant strategy, for tie breaks
}

// Process runs each enabled strategy against the window and returns the
// candidate groups for the trigger event. Candidates are unfiltered: callers
// decide promotion via Promote. The trigger itself is always a member of
// every candidate.
func (d *Detector) Process(trigger *models.NormalizedEvent, buf *window.Buffer) []*Group {
	byKey := make(map[string]*candidate)

	for i, strat := range d.strategies {
		prop, ok := strat.Propose(trigger, buf)
		if !ok {
			continue
		}

		members := make(map[string]*models.NormalizedEvent, len(prop.Related)+1)
		members[trigger.ID] = trigger
		for _, ev := range prop.Related {
			members[ev.ID] = ev
		}
		key := memberKey(members)
		weighted := clamp01(prop.Strength * strat.Weight())

		cand, exists := byKey[key]
		if !exists {
			cand = &candidate{
				members: members,
				links:   make(map[string]models.CausalLink),
				ctype:   prop.Type,
				order:   i,
			}
			byKey[key] = cand
			cand.strength = weighted
		} else if weighted > cand.strength {
			cand.strength = weighted
			cand.ctype = prop.Type
			cand.order = i
		}
		for _, link := range prop.Links {
			cand.links[link.CauseEventID+"|"+link.EffectEventID] = link
		}
	}

	groups := make([]*Group, 0, len(byKey))
	for _, cand := range byKey {
		groups = append(groups, d.assemble(cand))
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Correlation.Strength != b.Correlation.Strength {
			return a.Correlation.Strength > b.Correlation.Strength
		}
		if len(a.Members) != len(b.Members) {
			return len(a.Members) > len(b.Members)
		}
		return a.Correlation.DedupKey() < b.Correlation.DedupKey()
	})
	return groups
}

// Promote finalizes a candidate group: it must meet the minimum strength,
// hold at least two distinct events, and its member set must not have been
// promoted before. Promotion marks the member set, so a given set finalizes
// at most once per retention period.
func (d *Detector) Promote(g *Group) bool {
	if g == nil || g.Correlation == nil {
		return false
	}
	if g.Correlation.Strength < d.cfg.MinStrength {
		return false
	}
	if len(g.Correlation.MemberIDs()) < 2 {
		return false
	}
	key := g.Correlation.DedupKey()
	if d.registry.seen(key) {
		return false
	}
	d.registry.mark(key)
	return true
}

// assemble builds the correlation record for a candidate member set. Member
// events are ordered by timestamp, ties broken by identifier so repeated
// runs produce identical groups.
func (d *Detector) assemble(cand *candidate) *Group {
	members := make([]*models.NormalizedEvent, 0, len(cand.members))
	for _, ev := range cand.members {
		members = append(members, ev)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].Timestamp.Equal(members[j].Timestamp) {
			return members[i].Timestamp.Before(members[j].Timestamp)
		}
		return members[i].ID < members[j].ID
	})

	events := make([]models.CorrelatedEvent, 0, len(members))
	for _, ev := range members {
		ce := models.CorrelatedEvent{
			Event: models.RefOf(ev),
			Role:  models.RoleRelated,
		}
		if ev.Payload != nil {
			ce.Metrics = ev.Payload.Metrics()
		}
		events = append(events, ce)
	}

	links := make([]models.CausalLink, 0, len(cand.links))
	for _, link := range cand.links {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].CauseEventID != links[j].CauseEventID {
			return links[i].CauseEventID < links[j].CauseEventID
		}
		return links[i].EffectEventID < links[j].EffectEventID
	})

	corr := &models.EventCorrelation{
		ID:          newID(),
		Type:        cand.ctype,
		Events:      events,
		Strength:    clamp01(cand.strength),
		WindowStart: members[0].Timestamp,
		WindowEnd:   members[len(members)-1].Timestamp,
		DetectedAt:  d.now(),
	}
	return &Group{
		Correlation: corr,
		Members:     members,
		Links:       links,
	}
}

// memberKey builds a stable key over a member id set.
func memberKey(members map[string]*models.NormalizedEvent) string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	key := ""
	for i, id := range ids {
		if i > 0 {
			key += "|"
		}
		key += id
	}
	return key
}

// newID returns a time-ordered identifier, falling back to a random one if
// v7 generation fails.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// dedupRegistry remembers promoted member sets for the retention period.
type dedupRegistry struct {
	retention time.Duration
	now       func() time.Time
	marked    map[string]time.Time
	lastPrune time.Time
}

func newDedupRegistry(retention time.Duration, now func() time.Time) *dedupRegistry {
	return &dedupRegistry{
		retention: retention,
		now:       now,
		marked:    make(map[string]time.Time),
		lastPrune: now(),
	}
}

func (r *dedupRegistry) seen(key string) bool {
	at, ok := r.marked[key]
	if !ok {
		return false
	}
	if r.retention > 0 && r.now().Sub(at) > r.retention {
		delete(r.marked, key)
		return false
	}
	return true
}

func (r *dedupRegistry) mark(key string) {
	now := r.now()
	r.marked[key] = now

	// Once the member events have aged out of the window the same set can
	// never re-form, so stale keys are dropped wholesale.
	if r.retention > 0 && now.Sub(r.lastPrune) > r.retention {
		cutoff := now.Add(-r.retention)
		for k, at := range r.marked {
			if at.Before(cutoff) {
				delete(r.marked, k)
			}
		}
		r.lastPrune = now
	}
}

// clamp01 bounds a score to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
