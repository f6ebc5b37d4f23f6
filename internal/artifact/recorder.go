package artifact

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
)

// Recorder is a pipeline observer that checks each finished stage's
// artifacts and keeps the run record on disk up to date.
type Recorder struct {
	store  *Store
	root   string
	logger *log.Logger

	mu         sync.Mutex
	rec        Record
	total      int
	stageStart time.Time
}

// NewRecorder returns a Recorder that resolves artifact paths against root
// and writes rec, as it evolves, through store. A nil store only checks.
func NewRecorder(store *Store, root string, rec Record, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = logging.New("artifact")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	return &Recorder{store: store, root: root, rec: rec, logger: logger}
}

// Observe implements pipeline.Observer.
func (r *Recorder) Observe(ev pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case pipeline.EventRunStarted:
		r.total = ev.Total
		r.write()
	case pipeline.EventStageStarted:
		// Coarse filesystem timestamps would otherwise mark fresh
		// artifacts stale.
		r.stageStart = ev.Timestamp.Truncate(time.Second)
	case pipeline.EventStageFinished:
		if ev.Stage == nil || ev.Result == nil {
			return
		}
		checks := CheckPaths(r.root, ev.Stage.Artifacts(), r.stageStart)
		for _, c := range checks {
			switch {
			case !c.Exists:
				r.logger.Warn("artifact missing", "stage", ev.StageIndex+1, "path", c.Pattern)
			case c.Stale():
				r.logger.Warn("artifact not updated by stage", "stage", ev.StageIndex+1, "path", c.Pattern)
			default:
				r.logger.Debug("artifact present", "stage", ev.StageIndex+1, "path", c.Pattern, "matches", len(c.Matches))
			}
		}
		r.rec.Stages = append(r.rec.Stages, StageRecord{Result: *ev.Result, Artifacts: checks})
		r.rec.Summary = pipeline.Summarize(r.total, r.results())
		r.write()
	}
}

// Finish completes the record with the run outcome and writes it a final
// time.
func (r *Recorder) Finish(exitStatus int, runErr error) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rec.FinishedAt = time.Now()
	r.rec.ExitStatus = exitStatus
	r.rec.Summary = pipeline.Summarize(r.total, r.results())
	if runErr != nil {
		r.rec.Error = runErr.Error()
	}
	rec := r.rec
	if r.store == nil {
		return &rec, nil
	}
	if err := r.store.WriteRecord(&rec); err != nil {
		return &rec, err
	}
	return &rec, nil
}

func (r *Recorder) results() []pipeline.Result {
	out := make([]pipeline.Result, len(r.rec.Stages))
	for i, st := range r.rec.Stages {
		out[i] = st.Result
	}
	return out
}

// write persists the record mid-run. Failures are logged; a record that
// cannot be written never affects the pipeline.
func (r *Recorder) write() {
	if r.store == nil {
		return
	}
	if err := r.store.WriteRecord(&r.rec); err != nil {
		r.logger.Error("writing run record", "error", err)
	}
}
