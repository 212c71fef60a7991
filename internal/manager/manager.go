// Package manager hosts the single-writer owner of all canonical state: the
// profile collection and configuration. Every mutation is funneled through
// one goroutine; pipeline jobs run outside it and report back as messages.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"certhub/constants"
	"certhub/internal/common"
	"certhub/internal/dispatch"
	"certhub/internal/pipeline"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

// Event describes one accepted state change, or a pipeline failure. The
// snapshot attached is a deep copy taken after the change was applied.
type Event struct {
	Op       string           `json:"op"`
	ID       string           `json:"id,omitempty"`
	Error    string           `json:"error,omitempty"`
	Snapshot profile.Snapshot `json:"snapshot"`
}

// Event operations pushed to the subscriber.
const (
	OpProfileCreated    = "profile_created"
	OpProfileExtracted  = "profile_extracted"
	OpCertGenerated     = "certificate_generated"
	OpProfileReviewed   = "profile_reviewed"
	OpProfileUnreviewed = "profile_unreviewed"
	OpProfileUpdated    = "profile_updated"
	OpProfileDeleted    = "profile_deleted"
	OpConfigUpdated     = "config_updated"
	OpUploadFailed      = "upload_failed"
	OpExtractionFailed  = "extraction_failed"
	OpGenerationFailed  = "generation_failed"
)

// Deps are the collaborators the manager forwards work to.
type Deps struct {
	Uploads  *dispatch.Dispatcher
	Extracts *dispatch.Dispatcher
	Renders  *dispatch.Dispatcher

	Uploader  *pipeline.Uploader
	Extractor *pipeline.Extractor
	Renderer  *pipeline.CertRenderer

	// DefaultInferenceURL is used when configuration does not override it.
	DefaultInferenceURL string
}

// Manager is the state owner. All fields below reqs are owned by the run
// goroutine and must never be touched from outside it.
type Manager struct {
	logger *slog.Logger
	store  storage.Store
	deps   Deps

	reqs chan func()
	quit chan struct{}
	done chan struct{}

	snap profile.Snapshot
	sub  chan<- Event
}

func New(store storage.Store, deps Deps, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		store:  store,
		deps:   deps,
		reqs:   make(chan func(), 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Load restores the persisted snapshot, if one exists. Call before Start.
func (m *Manager) Load(ctx context.Context) error {
	rc, err := m.store.Get(ctx, constants.SnapshotKey)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			m.logger.Info("manager.load.empty")
			return nil
		}
		return common.WrapError(err, "load snapshot")
	}
	defer rc.Close()

	snap, err := profile.DecodeSnapshot(rc)
	if err != nil {
		return common.WrapError(err, "load snapshot")
	}
	m.snap = snap
	m.logger.Info("manager.load.ok", "profiles", len(snap.Profiles))
	return nil
}

// Start launches the owning goroutine.
func (m *Manager) Start() {
	go m.run()
}

// Stop shuts the owning goroutine down after in-queue requests drain far
// enough for the quit signal to be observed.
func (m *Manager) Stop() {
	close(m.quit)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.reqs:
			fn()
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it.
func (m *Manager) do(fn func()) bool {
	ack := make(chan struct{})
	select {
	case m.reqs <- func() { fn(); close(ack) }:
	case <-m.quit:
		return false
	}
	select {
	case <-ack:
		return true
	case <-m.quit:
		return false
	}
}

// enqueue schedules fn without waiting; used by job completions.
func (m *Manager) enqueue(fn func()) {
	select {
	case m.reqs <- fn:
	case <-m.quit:
	}
}

// ---- queries ----

// Snapshot returns a deep copy of the canonical state.
func (m *Manager) Snapshot() profile.Snapshot {
	var out profile.Snapshot
	m.do(func() { out = m.snap.Clone() })
	return out
}

// KnownIDs returns the set of profile ids currently in the collection.
func (m *Manager) KnownIDs() map[string]struct{} {
	var out map[string]struct{}
	m.do(func() {
		out = make(map[string]struct{}, len(m.snap.Profiles))
		for _, p := range m.snap.Profiles {
			out[p.ID] = struct{}{}
		}
	})
	return out
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() profile.Config {
	var out profile.Config
	m.do(func() { out = m.snap.Config.Clone() })
	return out
}

// ---- subscription ----

// Subscribe registers ch as the one subscriber, replacing any previous
// registration. A nil channel unregisters.
func (m *Manager) Subscribe(ch chan<- Event) {
	m.do(func() { m.sub = ch })
}

// Unsubscribe removes ch only if it is still the registered subscriber.
func (m *Manager) Unsubscribe(ch chan<- Event) {
	m.do(func() {
		if m.sub == ch {
			m.sub = nil
		}
	})
}

// notify pushes ev to the subscriber if one is registered; a missing or slow
// subscriber drops the event rather than stalling the owner.
func (m *Manager) notify(op, id, errMsg string) {
	if m.sub == nil {
		return
	}
	ev := Event{Op: op, ID: id, Error: errMsg, Snapshot: m.snap.Clone()}
	select {
	case m.sub <- ev:
	default:
		m.logger.Warn("manager.notify.dropped", "op", op, "id", id)
	}
}

// persist serializes the full snapshot. Failures are logged, never rolled
// back: the in-memory state already moved on.
func (m *Manager) persist() {
	b, err := profile.EncodeSnapshot(m.snap)
	if err != nil {
		m.logger.Error("manager.persist.encode_failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Put(ctx, constants.SnapshotKey, bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
		m.logger.Error("manager.persist.failed", "error", err)
	}
}

// mutated is the tail of every accepted mutation: notify, then persist.
func (m *Manager) mutated(op, id string) {
	m.notify(op, id, "")
	m.persist()
}

// ---- uploads ----

// SubmitUpload admits one staged upload. The job hashes and stores the image
// off the owner's critical path; the resulting profile lands back here as a
// completion message.
func (m *Manager) SubmitUpload(tmpPath string) {
	m.deps.Uploads.Submit(dispatch.Job{Run: func(ctx context.Context) {
		known := m.KnownIDs()
		res := m.deps.Uploader.Run(ctx, tmpPath, known)
		m.enqueue(func() { m.applyUpload(res) })
	}})
}

func (m *Manager) applyUpload(res pipeline.UploadResult) {
	if res.Err != nil {
		m.logger.Error("manager.upload.failed", "error", res.Err)
		m.notify(OpUploadFailed, "", res.Err.Error())
		return
	}
	if m.snap.Find(res.Profile.ID) != nil {
		// Two in-flight uploads of identical bytes resolved to the same
		// content id; the stored objects are byte-identical duplicates.
		m.logger.Warn("manager.upload.duplicate", "id", res.Profile.ID)
		return
	}
	m.snap.Profiles = append(m.snap.Profiles, res.Profile)
	m.logger.Info("manager.upload.applied", "id", res.Profile.ID)
	m.mutated(OpProfileCreated, res.Profile.ID)
}

// ---- extraction ----

// RequestExtraction submits extraction jobs for every requested id that
// exists. Unknown ids are dropped silently; the returned slice lists what
// was actually admitted.
func (m *Manager) RequestExtraction(ids []string) []string {
	var accepted []string
	var baseURL string
	m.do(func() {
		baseURL = m.inferenceURL()
		for _, id := range ids {
			if m.snap.Find(id) != nil {
				accepted = append(accepted, id)
			}
		}
	})
	for _, id := range accepted {
		id := id
		m.deps.Extracts.Submit(dispatch.Job{ID: id, Run: func(ctx context.Context) {
			res := m.deps.Extractor.Run(ctx, id, baseURL)
			m.enqueue(func() { m.applyExtract(res) })
		}})
	}
	return accepted
}

// inferenceURL must run on the owning goroutine.
func (m *Manager) inferenceURL() string {
	if m.snap.Config.InferenceURL != "" {
		return m.snap.Config.InferenceURL
	}
	return m.deps.DefaultInferenceURL
}

func (m *Manager) applyExtract(res pipeline.ExtractResult) {
	if res.Err != nil {
		m.logger.Error("manager.extract.failed", "id", res.ID, "error", res.Err)
		m.notify(OpExtractionFailed, res.ID, res.Err.Error())
		return
	}
	p := m.snap.Find(res.ID)
	if p == nil {
		// Profile deleted while the job was in flight; harmless.
		m.logger.Debug("manager.extract.orphan_completion", "id", res.ID)
		return
	}
	p.NameCN = res.NameCN
	p.NamePinyin = res.NamePinyin
	p.Birthday = res.Birthday
	p.BaptismDate = res.BaptismDate
	if constants.CanTransition(p.Status, constants.StatusExtracted) {
		p.Status = constants.StatusExtracted
	}
	m.mutated(OpProfileExtracted, res.ID)
}

// ---- certificate generation ----

// RequestGeneration submits certificate jobs for the requested ids that are
// currently in the extracted state; everything else is dropped without
// error.
func (m *Manager) RequestGeneration(ids []string) []string {
	type work struct {
		p   *profile.Profile
		cfg profile.Config
	}
	var jobs []work
	m.do(func() {
		for _, id := range ids {
			p := m.snap.Find(id)
			if p == nil || p.Status != constants.StatusExtracted {
				continue
			}
			jobs = append(jobs, work{p: p.Clone(), cfg: m.snap.Config.Clone()})
		}
	})

	accepted := make([]string, 0, len(jobs))
	for _, w := range jobs {
		w := w
		accepted = append(accepted, w.p.ID)
		m.deps.Renders.Submit(dispatch.Job{ID: w.p.ID, Run: func(ctx context.Context) {
			res := m.deps.Renderer.Render(ctx, w.p, w.cfg)
			m.enqueue(func() { m.applyRender(res) })
		}})
	}
	return accepted
}

func (m *Manager) applyRender(res pipeline.RenderResult) {
	if res.Err != nil {
		m.logger.Error("manager.render.failed", "id", res.ID, "step", res.Step, "error", res.Err)
		m.notify(OpGenerationFailed, res.ID, fmt.Sprintf("%s: %v", res.Step, res.Err))
		return
	}
	p := m.snap.Find(res.ID)
	if p == nil {
		m.logger.Debug("manager.render.orphan_completion", "id", res.ID)
		return
	}
	// Only the extracted -> generated edge belongs to render completions;
	// reviewed -> generated is the reviewer's move, and a stale completion
	// must not regress it.
	if p.Status != constants.StatusExtracted {
		m.logger.Debug("manager.render.stale_completion", "id", res.ID, "status", p.Status)
		return
	}
	p.Status = constants.StatusGenerated
	m.mutated(OpCertGenerated, res.ID)
}

// ---- review gate ----

// MarkReviewed moves every requested profile currently in generated to
// reviewed; ineligible ids are silent no-ops. Returns the ids that moved.
func (m *Manager) MarkReviewed(ids []string) []string {
	return m.review(ids, constants.StatusReviewed, OpProfileReviewed)
}

// UnmarkReviewed moves every requested profile currently in reviewed back to
// generated.
func (m *Manager) UnmarkReviewed(ids []string) []string {
	return m.review(ids, constants.StatusGenerated, OpProfileUnreviewed)
}

func (m *Manager) review(ids []string, target constants.ProfileStatus, op string) []string {
	var changed []string
	m.do(func() {
		for _, id := range ids {
			p := m.snap.Find(id)
			if p == nil || !constants.CanTransition(p.Status, target) {
				continue
			}
			p.Status = target
			changed = append(changed, id)
			m.notify(op, id, "")
		}
		if len(changed) > 0 {
			m.persist()
		}
	})
	return changed
}

// ---- edits, deletes, config ----

// ProfileUpdate is a manual field edit; nil members are left untouched and
// empty strings clear the field.
type ProfileUpdate struct {
	NameCN      *string
	NamePinyin  *string
	Birthday    *string
	BaptismDate *string
}

func (m *Manager) UpdateProfile(id string, upd ProfileUpdate) error {
	var err error
	m.do(func() {
		p := m.snap.Find(id)
		if p == nil {
			err = fmt.Errorf("profile %s: %w", id, common.ErrNotFound)
			return
		}
		if upd.NameCN != nil {
			p.NameCN = *upd.NameCN
		}
		if upd.NamePinyin != nil {
			p.NamePinyin = profile.NormalizePinyin(*upd.NamePinyin)
		}
		if upd.Birthday != nil {
			if p.Birthday, err = parseDateEdit(*upd.Birthday); err != nil {
				return
			}
		}
		if upd.BaptismDate != nil {
			if p.BaptismDate, err = parseDateEdit(*upd.BaptismDate); err != nil {
				return
			}
		}
		m.mutated(OpProfileUpdated, id)
	})
	return err
}

func parseDateEdit(s string) (*profile.Date, error) {
	if s == "" {
		return nil, nil
	}
	d := profile.ParseDate(s)
	if d == nil {
		return nil, fmt.Errorf("date %q: %w", s, common.ErrInvalidInput)
	}
	return d, nil
}

// DeleteProfile removes the profile's stored artifacts, then the profile
// itself. Object deletions are best-effort; the profile leaves the
// collection regardless. In-flight jobs for the id are not cancelled; their
// completions will no-op.
func (m *Manager) DeleteProfile(ctx context.Context, id string) error {
	var err error
	m.do(func() {
		idx := -1
		for i, p := range m.snap.Profiles {
			if p.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			err = fmt.Errorf("profile %s: %w", id, common.ErrNotFound)
			return
		}
		for _, key := range constants.ProfileObjectKeys(id) {
			if delErr := m.store.Delete(ctx, key); delErr != nil {
				m.logger.Warn("manager.delete.object_failed", "key", key, "error", delErr)
			}
		}
		m.snap.Profiles = append(m.snap.Profiles[:idx], m.snap.Profiles[idx+1:]...)
		m.mutated(OpProfileDeleted, id)
	})
	return err
}

// UpdateConfig replaces the configuration.
func (m *Manager) UpdateConfig(cfg profile.Config) {
	m.do(func() {
		m.snap.Config = cfg.Clone()
		m.mutated(OpConfigUpdated, "")
	})
}

// ---- combined download ----

// CombineCertificates merges the generated certificates for the requested
// ids into one deck. Only profiles whose certificate exists (generated or
// reviewed) participate; if none qualify the operation fails. The merge
// itself runs on the caller's goroutine, off the owner's critical path.
func (m *Manager) CombineCertificates(ctx context.Context, ids []string) ([]byte, error) {
	var eligible []string
	m.do(func() {
		for _, id := range ids {
			p := m.snap.Find(id)
			if p == nil {
				continue
			}
			if p.Status == constants.StatusGenerated || p.Status == constants.StatusReviewed {
				eligible = append(eligible, id)
			}
		}
	})
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no generated certificates among requested ids: %w", common.ErrMerge)
	}
	return m.deps.Renderer.Combine(ctx, eligible)
}
