package incident

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"vigil-eoc/core/rbac"
	"vigil-eoc/core/utils"
)

// Mirror persists engine mutations. The in-memory state stays
// authoritative: a failed mirror write surfaces as PersistenceError and
// is never rolled back. Implemented by store.IncidentsStore.
type Mirror interface {
	SaveIncident(ctx context.Context, inc *Incident) error
	SaveNote(ctx context.Context, note *AdminNote) error
	SaveActivity(ctx context.Context, entry *ActivityLogEntry) error
	SaveRegCounter(ctx context.Context, year int, seq int64) error
}

// Event is a dashboard notification emitted after a mutation commits.
type Event struct {
	Kind       string
	IncidentID int64
	RegNo      string
	Title      string
	Body       string
}

// Sink receives events. Wired to the notification center at compose time.
type Sink interface {
	Publish(evt Event)
}

// Report is the intake payload for a new incident.
type Report struct {
	Type        string
	Title       string
	Description string
	Location    Location
	Timestamp   *time.Time
	MediaURLs   []string
	ReporterID  *int64
	ReportedBy  string
	SeverityAI  string
	AssignedTo  string
}

type EngineConfig struct {
	Policy         *rbac.Policy
	Mirror         Mirror
	Sink           Sink
	Logger         *utils.Logger
	RegNoFormat    string
	PersistTimeout time.Duration
	RetryBackoff   time.Duration
	Now            func() time.Time
}

// Engine is the single gate for every incident mutation. All commands
// and the background upvote pulse serialize on one mutex; records are
// replaced copy-on-write so readers never observe a partial mutation.
type Engine struct {
	mu       sync.RWMutex
	byID     map[int64]*Incident
	notes    map[int64][]AdminNote
	activity map[int64][]ActivityLogEntry
	regSeq   map[int]int64

	nextID         int64
	nextNoteID     int64
	nextActivityID int64

	policy         *rbac.Policy
	mirror         Mirror
	sink           Sink
	logger         *utils.Logger
	regNoFormat    string
	persistTimeout time.Duration
	retryBackoff   time.Duration
	now            func() time.Time
	rng            *rand.Rand
}

const defaultRegNoFormat = "INC-{year}-{seq:05}"

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		byID:           make(map[int64]*Incident),
		notes:          make(map[int64][]AdminNote),
		activity:       make(map[int64][]ActivityLogEntry),
		regSeq:         make(map[int]int64),
		nextID:         1,
		nextNoteID:     1,
		nextActivityID: 1,
		policy:         cfg.Policy,
		mirror:         cfg.Mirror,
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		regNoFormat:    cfg.RegNoFormat,
		persistTimeout: cfg.PersistTimeout,
		retryBackoff:   cfg.RetryBackoff,
		now:            cfg.Now,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if e.regNoFormat == "" {
		e.regNoFormat = defaultRegNoFormat
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.retryBackoff <= 0 {
		e.retryBackoff = 250 * time.Millisecond
	}
	return e
}

// Seed loads persisted state at boot and positions the id counters past
// everything already allocated.
func (e *Engine) Seed(incidents []Incident, notes []AdminNote, activity []ActivityLogEntry, counters map[int]int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range incidents {
		inc := incidents[i]
		e.byID[inc.ID] = inc.Clone()
		if inc.ID >= e.nextID {
			e.nextID = inc.ID + 1
		}
	}
	for _, n := range notes {
		e.notes[n.IncidentID] = append(e.notes[n.IncidentID], n)
		if n.ID >= e.nextNoteID {
			e.nextNoteID = n.ID + 1
		}
	}
	for _, a := range activity {
		e.activity[a.IncidentID] = append(e.activity[a.IncidentID], a)
		if a.ID >= e.nextActivityID {
			e.nextActivityID = a.ID + 1
		}
	}
	for year, seq := range counters {
		e.regSeq[year] = seq
	}
}

// Ingest registers a new report as an UNVERIFIED incident. The intake
// collaborator is not a transition command; role gating happens at the
// route. Severity defaults to MEDIUM when the hint is absent or unknown.
func (e *Engine) Ingest(ctx context.Context, rep Report) (*Incident, error) {
	typ, ok := ParseType(rep.Type)
	if strings.TrimSpace(rep.Type) == "" || !ok {
		return nil, &ValidationError{Field: "type", Reason: "missing or unknown incident type"}
	}
	if strings.TrimSpace(rep.Description) == "" {
		return nil, &ValidationError{Field: "description", Reason: "description is required"}
	}
	severity := SeverityMedium
	if sev, ok := ParseSeverity(rep.SeverityAI); ok {
		severity = sev
	}
	now := e.now()
	createdAt := now
	if rep.Timestamp != nil && !rep.Timestamp.IsZero() {
		createdAt = rep.Timestamp.UTC()
	}
	department := strings.TrimSpace(rep.AssignedTo)
	if strings.EqualFold(department, "Not Assigned") {
		department = ""
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	year := createdAt.Year()
	e.regSeq[year]++
	seq := e.regSeq[year]
	inc := &Incident{
		ID:                 id,
		RegNo:              formatRegNo(e.regNoFormat, year, seq),
		Type:               typ,
		Severity:           severity,
		Status:             StatusUnverified,
		Title:              strings.TrimSpace(rep.Title),
		Description:        strings.TrimSpace(rep.Description),
		Location:           rep.Location,
		CreatedAt:          createdAt,
		UpdatedAt:          now,
		Priority:           basePriority(severity),
		ReporterID:         rep.ReporterID,
		ReportedBy:         strings.TrimSpace(rep.ReportedBy),
		AssignedDepartment: department,
		Media:              append([]string(nil), rep.MediaURLs...),
		Version:            1,
	}
	e.byID[id] = inc
	reporter := Actor{Name: inc.ReportedBy}
	if reporter.Name == "" {
		reporter.Name = "anonymous"
	}
	if rep.ReporterID != nil {
		reporter.ID = *rep.ReporterID
	}
	entry := e.appendActivityLocked(id, ActionReported,
		fmt.Sprintf("type=%s severity=%s area=%s", typ, severity, inc.Location.Area), reporter, now)
	result := inc.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.reported",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "New incident reported",
		Body:       fmt.Sprintf("%s %s reported in %s", result.RegNo, typ, locOrUnknown(result.Location)),
	})
	err := e.persist(ctx, "incident.create", func(ctx context.Context) error {
		if err := e.mirror.SaveIncident(ctx, result); err != nil {
			return err
		}
		if err := e.mirror.SaveActivity(ctx, entry); err != nil {
			return err
		}
		return e.mirror.SaveRegCounter(ctx, year, seq)
	})
	return result, err
}

// Verify confirms an UNVERIFIED report.
func (e *Engine) Verify(ctx context.Context, actor Actor, id int64) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsVerify, "verify incidents"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	if cur.Status != StatusUnverified {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: StatusVerified}
		e.mu.Unlock()
		return nil, ite
	}
	now := e.now()
	next := cur.Clone()
	next.Status = StatusVerified
	stampVerification(next, actor, now)
	next.UpdatedAt = now
	next.Version++
	entry := e.appendActivityLocked(id, ActionVerified,
		fmt.Sprintf("status %s -> %s", StatusUnverified, StatusVerified), actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.verified",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Incident verified",
		Body:       fmt.Sprintf("%s confirmed by %s", result.RegNo, actor.Name),
	})
	return result, e.persistIncident(ctx, "incident.verify", result, entry)
}

// MarkFalse discards a report as not real. The reason is mandatory and
// lands in the activity details.
func (e *Engine) MarkFalse(ctx context.Context, actor Actor, id int64, reason string) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsTriage, "dismiss incidents"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "reason", Reason: "a non-empty reason is required"}
	}
	if cur.Status.Terminal() {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: StatusFalse}
		e.mu.Unlock()
		return nil, ite
	}
	now := e.now()
	next := cur.Clone()
	from := next.Status
	next.Status = StatusFalse
	next.UpdatedAt = now
	next.Version++
	entry := e.appendActivityLocked(id, ActionMarkedFalse, "reason: "+reason, actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.false",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Incident dismissed",
		Body:       fmt.Sprintf("%s marked false (was %s): %s", result.RegNo, from, reason),
	})
	return result, e.persistIncident(ctx, "incident.false", result, entry)
}

// MarkDuplicate folds a report into an already-tracked original.
// Duplicates never chain: the original must itself be a live record.
func (e *Engine) MarkDuplicate(ctx context.Context, actor Actor, id, originalID int64) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsTriage, "merge duplicate incidents"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	if originalID == id {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "original_id", Reason: "an incident cannot duplicate itself"}
	}
	orig, ok := e.byID[originalID]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: originalID}
	}
	if cur.Status.Terminal() {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: StatusDuplicate}
		e.mu.Unlock()
		return nil, ite
	}
	if orig.Status == StatusFalse || orig.Status == StatusDuplicate {
		ite := &InvalidTransitionError{
			ID:     id,
			From:   cur.Status,
			To:     StatusDuplicate,
			Reason: fmt.Sprintf("original %d is %s, cannot chain duplicates onto discarded reports", originalID, orig.Status),
		}
		e.mu.Unlock()
		return nil, ite
	}
	now := e.now()
	next := cur.Clone()
	next.Status = StatusDuplicate
	dup := originalID
	next.DuplicateOf = &dup
	next.UpdatedAt = now
	next.Version++
	origRegNo := orig.RegNo
	entry := e.appendActivityLocked(id, ActionMarkedDuplicate,
		fmt.Sprintf("duplicate of #%d (%s)", originalID, origRegNo), actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.duplicate",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Duplicate merged",
		Body:       fmt.Sprintf("%s folded into %s", result.RegNo, origRegNo),
	})
	return result, e.persistIncident(ctx, "incident.duplicate", result, entry)
}

// SetStatus moves an incident between non-terminal states. The two
// regular chain steps need the progress capability; everything else is
// a manual override and needs the admin override capability. Terminal
// states are entered only through their dedicated operations, except
// IN_PROGRESS -> RESOLVED which is the regular completion step.
func (e *Engine) SetStatus(ctx context.Context, actor Actor, id int64, to Status) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsProgress, "change incident status"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	if !to.Valid() {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", string(to))}
	}
	from := cur.Status
	if from.Terminal() {
		e.mu.Unlock()
		return nil, &InvalidTransitionError{ID: id, From: from, To: to, Reason: fmt.Sprintf("incident is %s, terminal states are frozen", from)}
	}
	override := false
	switch {
	case chainStep(from, to):
	case overrideStep(from, to):
		override = true
	default:
		e.mu.Unlock()
		return nil, &InvalidTransitionError{ID: id, From: from, To: to}
	}
	if override {
		if err := e.require(actor, rbac.PermIncidentsOverride, "override incident status"); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	now := e.now()
	next := cur.Clone()
	next.Status = to
	if to == StatusResolved {
		rt := now
		next.ResolvedAt = &rt
	}
	if verifiedOrLater(to) && next.VerifiedAt == nil {
		stampVerification(next, actor, now)
	}
	next.UpdatedAt = now
	next.Version++
	details := fmt.Sprintf("status %s -> %s", from, to)
	if override {
		details += " (override)"
	}
	entry := e.appendActivityLocked(id, ActionStatusChanged, details, actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.status",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Status updated",
		Body:       fmt.Sprintf("%s: %s -> %s", result.RegNo, from, to),
	})
	return result, e.persistIncident(ctx, "incident.status", result, entry)
}

// SetSeverity overrides the urgency classification. Setting the current
// severity again is a no-op.
func (e *Engine) SetSeverity(ctx context.Context, actor Actor, id int64, severity Severity) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsSeverity, "change incident severity"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	if !severity.Valid() {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", string(severity))}
	}
	if cur.Status.Terminal() {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: cur.Status, Reason: fmt.Sprintf("incident is %s, severity is frozen", cur.Status)}
		e.mu.Unlock()
		return nil, ite
	}
	if cur.Severity == severity {
		result := cur.Clone()
		e.mu.Unlock()
		return result, nil
	}
	now := e.now()
	next := cur.Clone()
	from := next.Severity
	next.Severity = severity
	next.UpdatedAt = now
	next.Version++
	entry := e.appendActivityLocked(id, ActionSeverityChanged,
		fmt.Sprintf("severity %s -> %s", from, severity), actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.severity",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Severity changed",
		Body:       fmt.Sprintf("%s: %s -> %s", result.RegNo, from, severity),
	})
	return result, e.persistIncident(ctx, "incident.severity", result, entry)
}

// AssignDepartment hands a verified incident to a response department,
// taking the VERIFIED -> ASSIGNED edge.
func (e *Engine) AssignDepartment(ctx context.Context, actor Actor, id int64, department string) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsAssign, "assign incidents"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	department = strings.TrimSpace(department)
	if department == "" {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "department", Reason: "department is required"}
	}
	if cur.Status != StatusVerified {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: StatusAssigned, Reason: "only a VERIFIED incident can be assigned"}
		e.mu.Unlock()
		return nil, ite
	}
	now := e.now()
	next := cur.Clone()
	next.Status = StatusAssigned
	next.AssignedDepartment = department
	next.UpdatedAt = now
	next.Version++
	entry := e.appendActivityLocked(id, ActionAssigned, "assigned to "+department, actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	e.publish(Event{
		Kind:       "incident.assigned",
		IncidentID: id,
		RegNo:      result.RegNo,
		Title:      "Department assigned",
		Body:       fmt.Sprintf("%s -> %s", result.RegNo, department),
	})
	return result, e.persistIncident(ctx, "incident.assign", result, entry)
}

// AddNote appends an operator remark. Notes stay permitted on terminal
// incidents.
func (e *Engine) AddNote(ctx context.Context, actor Actor, id int64, content string) (*AdminNote, error) {
	if err := e.require(actor, rbac.PermIncidentsNotes, "add notes"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	_, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		e.mu.Unlock()
		return nil, &ValidationError{Field: "content", Reason: "note content is required"}
	}
	now := e.now()
	note := AdminNote{
		ID:         e.nextNoteID,
		IncidentID: id,
		Content:    content,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		CreatedAt:  now,
	}
	e.nextNoteID++
	e.notes[id] = append(e.notes[id], note)
	entry := e.appendActivityLocked(id, ActionNoteAdded, truncate(content, 120), actor, now)
	e.mu.Unlock()

	result := note
	err := e.persist(ctx, "incident.note", func(ctx context.Context) error {
		if err := e.mirror.SaveNote(ctx, &result); err != nil {
			return err
		}
		return e.mirror.SaveActivity(ctx, entry)
	})
	return &result, err
}

// Upvote bumps the community counter by one while the incident is live.
func (e *Engine) Upvote(ctx context.Context, actor Actor, id int64) (*Incident, error) {
	if err := e.require(actor, rbac.PermIncidentsUpvote, "upvote incidents"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	if cur.Status.Terminal() {
		ite := &InvalidTransitionError{ID: id, From: cur.Status, To: cur.Status, Reason: fmt.Sprintf("incident is %s, upvotes are closed", cur.Status)}
		e.mu.Unlock()
		return nil, ite
	}
	now := e.now()
	next := cur.Clone()
	next.Upvotes++
	next.UpdatedAt = now
	next.Version++
	entry := e.appendActivityLocked(id, ActionUpvoted,
		fmt.Sprintf("upvotes=%d", next.Upvotes), actor, now)
	e.byID[id] = next
	result := next.Clone()
	e.mu.Unlock()

	return result, e.persistIncident(ctx, "incident.upvote", result, entry)
}

// SimulatePulse applies community upvote increments to up to maxPerTick
// random live incidents. It runs on the scheduler under the same lock
// as manual commands, attributed to the system actor, and emits no
// notifications. Returns the number of incidents touched.
func (e *Engine) SimulatePulse(ctx context.Context, maxPerTick int) int {
	if maxPerTick <= 0 {
		return 0
	}
	system := Actor{ID: 0, Name: "system", Roles: []string{rbac.RoleSystem}}

	e.mu.Lock()
	var live []*Incident
	for _, inc := range e.byID {
		if !inc.Status.Terminal() {
			live = append(live, inc)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	e.rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	if len(live) > maxPerTick {
		live = live[:maxPerTick]
	}
	now := e.now()
	type dirty struct {
		inc   *Incident
		entry *ActivityLogEntry
	}
	var touched []dirty
	for _, cur := range live {
		delta := int64(1 + e.rng.Intn(3))
		next := cur.Clone()
		next.Upvotes += delta
		next.UpdatedAt = now
		next.Version++
		entry := e.appendActivityLocked(next.ID, ActionUpvoted,
			fmt.Sprintf("community pulse +%d (total %d)", delta, next.Upvotes), system, now)
		e.byID[next.ID] = next
		touched = append(touched, dirty{inc: next.Clone(), entry: entry})
	}
	e.mu.Unlock()

	for _, d := range touched {
		if err := e.persistIncident(ctx, "incident.pulse", d.inc, d.entry); err != nil {
			e.logger.Errorf("pulse mirror failed for incident %d: %v", d.inc.ID, err)
		}
	}
	return len(touched)
}

// Get returns a copy of one incident.
func (e *Engine) Get(id int64) (*Incident, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inc, ok := e.byID[id]
	if !ok {
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	return inc.Clone(), nil
}

// Snapshot returns copies of every incident, newest first.
func (e *Engine) Snapshot() []*Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []*Incident {
	out := make([]*Incident, 0, len(e.byID))
	for _, inc := range e.byID {
		out = append(out, inc.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// List applies the filter over the current set and optionally ranks the
// result; without ranking the newest-first creation order is kept.
func (e *Engine) List(f Filter, ranked bool) []*Incident {
	list := f.Apply(e.Snapshot())
	if ranked {
		return Rank(list)
	}
	return list
}

// Stats recomputes the live dashboard aggregates.
func (e *Engine) Stats() DashboardStats {
	e.mu.RLock()
	list := e.snapshotLocked()
	e.mu.RUnlock()
	return ComputeStats(list, e.now())
}

// Markers returns the lightweight map pins inside the viewport.
func (e *Engine) Markers(vp Viewport) ([]MapMarker, error) {
	return MarkersInViewport(e.Snapshot(), vp)
}

// Notes returns the remarks of one incident in creation order.
func (e *Engine) Notes(id int64) ([]AdminNote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.byID[id]; !ok {
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	return append([]AdminNote(nil), e.notes[id]...), nil
}

// Activity returns the audit trail of one incident, newest first.
func (e *Engine) Activity(id int64) ([]ActivityLogEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.byID[id]; !ok {
		return nil, &NotFoundError{Entity: "incident", ID: id}
	}
	entries := e.activity[id]
	out := make([]ActivityLogEntry, len(entries))
	for i := range entries {
		out[i] = entries[len(entries)-1-i]
	}
	return out, nil
}

func (e *Engine) require(actor Actor, perm rbac.Permission, operation string) error {
	if e.policy == nil {
		return nil
	}
	if !e.policy.Allowed(actor.Roles, perm) {
		return &PermissionError{Actor: actor.Name, Operation: operation}
	}
	return nil
}

// appendActivityLocked assigns the next entry id and appends. Callers
// hold e.mu.
func (e *Engine) appendActivityLocked(incidentID int64, action Action, details string, actor Actor, at time.Time) *ActivityLogEntry {
	entry := ActivityLogEntry{
		ID:         e.nextActivityID,
		IncidentID: incidentID,
		Action:     action,
		Details:    details,
		UserID:     actor.ID,
		UserName:   actor.Name,
		CreatedAt:  at,
	}
	e.nextActivityID++
	e.activity[incidentID] = append(e.activity[incidentID], entry)
	cp := entry
	return &cp
}

func (e *Engine) publish(evt Event) {
	if e.sink != nil {
		e.sink.Publish(evt)
	}
}

func (e *Engine) persistIncident(ctx context.Context, op string, inc *Incident, entry *ActivityLogEntry) error {
	return e.persist(ctx, op, func(ctx context.Context) error {
		if err := e.mirror.SaveIncident(ctx, inc); err != nil {
			return err
		}
		return e.mirror.SaveActivity(ctx, entry)
	})
}

// persist runs a mirror write outside the state lock with the
// configured timeout and a retry-once policy. A final failure comes
// back as PersistenceError; the in-memory mutation stands.
func (e *Engine) persist(parent context.Context, op string, fn func(ctx context.Context) error) error {
	if e.mirror == nil {
		return nil
	}
	ctx := parent
	if e.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.persistTimeout)
		defer cancel()
	}
	backoff := retry.WithMaxRetries(1, retry.NewConstant(e.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		e.logger.Errorf("mirror write %s failed: %v", op, err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func stampVerification(inc *Incident, actor Actor, at time.Time) {
	vt := at
	inc.VerifiedAt = &vt
	actorID := actor.ID
	inc.VerifiedBy = &actorID
	inc.VerifiedByName = actor.Name
}

func verifiedOrLater(s Status) bool {
	switch s {
	case StatusVerified, StatusAssigned, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

func basePriority(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return 95
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	}
	return 50
}

var regNoSeqToken = regexp.MustCompile(`\{seq(?::0?(\d+))?\}`)

// formatRegNo renders handles like INC-2025-00042 from the configured
// pattern, e.g. "INC-{year}-{seq:05}".
func formatRegNo(format string, year int, seq int64) string {
	out := strings.ReplaceAll(format, "{year}", strconv.Itoa(year))
	m := regNoSeqToken.FindStringSubmatch(out)
	if m == nil {
		return out + "-" + strconv.FormatInt(seq, 10)
	}
	width := 0
	if m[1] != "" {
		width, _ = strconv.Atoi(m[1])
	}
	num := strconv.FormatInt(seq, 10)
	for len(num) < width {
		num = "0" + num
	}
	return strings.Replace(out, m[0], num, 1)
}

func locOrUnknown(loc Location) string {
	if strings.TrimSpace(loc.Area) != "" {
		return loc.Area
	}
	return "an unknown area"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
