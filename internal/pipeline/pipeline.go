package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/config"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

// auditCloseTimeout bounds the update that closes an ingestion_runs row.
const auditCloseTimeout = 30 * time.Second

// Pipeline wires the Walmart ingestion tasks to a warehouse and, optionally,
// a storage service used for pre-flight checks.
type Pipeline struct {
	cfg       *config.Config
	warehouse Warehouse
	storage   StorageService

	mu     sync.Mutex
	loads  map[string]*bq.LoadResult
	merged *bq.QueryResult
}

// New creates a Pipeline. storage may be nil.
func New(cfg *config.Config, warehouse Warehouse, storage StorageService) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		warehouse: warehouse,
		storage:   storage,
		loads:     make(map[string]*bq.LoadResult),
	}
}

// RunOptions tune a single run.
type RunOptions struct {
	// RunID is generated when empty.
	RunID string
	// Recorder, when set, receives ingestion_runs audit rows.
	Recorder RunRecorder
	// Observers are notified on every task state transition.
	Observers []workflow.Observer
}

// Outcome is what a run produced.
type Outcome struct {
	Run   *workflow.RunResult
	Loads map[string]*bq.LoadResult
	Merge *bq.QueryResult
}

// MergedRows is the number of target rows the merge touched, or zero.
func (o *Outcome) MergedRows() int64 {
	if o == nil || o.Merge == nil {
		return 0
	}
	return o.Merge.AffectedRows
}

// DAG builds the tasks of phase. PhaseAll yields the full seven-task DAG; the
// other phases yield the subset with no cross-phase dependencies.
func (p *Pipeline) DAG(phase Phase) (*workflow.DAG, error) {
	id := p.cfg.Workflow.DAGID
	if phase != PhaseAll {
		id = fmt.Sprintf("%s.%s", id, phase)
	}
	dag := workflow.NewDAG(id)

	full := phase == PhaseAll
	var add []workflow.Task

	if full || phase == PhaseProvision {
		add = append(add, workflow.Task{
			ID:          TaskCreateDataset,
			Run:         p.createDataset,
			Description: fmt.Sprintf("create dataset %s in %s", p.cfg.Dataset, p.cfg.Location),
		})
		for i, t := range p.Tables() {
			add = append(add, workflow.Task{
				ID:          tableTaskIDs[i],
				Upstream:    []string{TaskCreateDataset},
				Run:         p.createTable(t),
				Description: fmt.Sprintf("create table %s.%s", p.cfg.Dataset, t.Name),
			})
		}
	}

	if full || phase == PhaseLoad {
		var upstream []string
		if full {
			upstream = tableTaskIDs
		}
		for _, s := range p.Sources() {
			add = append(add, workflow.Task{
				ID:          s.TaskID,
				Upstream:    upstream,
				Run:         p.loadSource(s),
				Description: fmt.Sprintf("load %s into %s.%s (truncate)", p.cfg.SourceURI(s.Object), p.cfg.Dataset, s.Table),
			})
		}
	}

	if full || phase == PhaseMerge {
		var upstream []string
		if full {
			upstream = []string{TaskLoadMerchants, TaskLoadSales}
		}
		add = append(add, workflow.Task{
			ID:          TaskMergeSales,
			Upstream:    upstream,
			Run:         p.mergeSales,
			Description: fmt.Sprintf("merge %s into %s.%s", p.cfg.Tables.SalesStage, p.cfg.Dataset, p.cfg.Tables.Target),
		})
	}

	if len(add) == 0 {
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
	for _, t := range add {
		if err := dag.AddTask(t); err != nil {
			return nil, err
		}
	}
	if err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}

// Run executes phase with the configured retries, parallelism and timeout.
func (p *Pipeline) Run(ctx context.Context, phase Phase, opts RunOptions) (*Outcome, error) {
	dag, err := p.DAG(phase)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	if opts.Recorder != nil {
		if err := p.startAudit(ctx, dag.ID, runID, opts.Recorder); err != nil {
			return nil, err
		}
	}

	runCtx := ctx
	if p.cfg.Workflow.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Workflow.Timeout)
		defer cancel()
	}

	runner := workflow.NewRunner(p.cfg.Workflow.MaxParallel, p.cfg.Workflow.Retries, p.cfg.Workflow.RetryDelay, opts.Observers...)
	result, runErr := runner.Run(runCtx, dag, runID)

	outcome := p.outcome(result)

	if opts.Recorder != nil {
		// The run may have been cancelled or timed out; the row is closed regardless.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditCloseTimeout)
		defer cancel()
		if runErr != nil {
			opts.Recorder.MarkIngestionRunFailed(closeCtx, runID, runErr)
		} else if err := opts.Recorder.MarkIngestionRunSucceeded(closeCtx, runID, outcome.MergedRows()); err != nil {
			return outcome, err
		}
	}

	return outcome, runErr
}

func (p *Pipeline) startAudit(ctx context.Context, dagID, runID string, recorder RunRecorder) error {
	if err := p.warehouse.CreateDataset(ctx, p.cfg.Dataset, p.cfg.Location); err != nil {
		return fmt.Errorf("startAudit: %w", err)
	}
	if err := p.warehouse.CreateTable(ctx, p.cfg.Dataset, p.cfg.Tables.Runs, bq.IngestionRunsSchema()); err != nil {
		return fmt.Errorf("startAudit: %w", err)
	}
	return recorder.StartIngestionRun(ctx, &bq.IngestionRunRow{
		RunID:     runID,
		DAGID:     dagID,
		StartedTS: time.Now().UTC(),
		Status:    bq.RunStatusRunning,
	})
}

func (p *Pipeline) outcome(result *workflow.RunResult) *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	loads := make(map[string]*bq.LoadResult, len(p.loads))
	for k, v := range p.loads {
		loads[k] = v
	}
	return &Outcome{Run: result, Loads: loads, Merge: p.merged}
}

// BuildDAG returns the full Walmart_Data_Ingestion DAG.
func BuildDAG(cfg *config.Config, warehouse Warehouse, storage StorageService) (*workflow.DAG, error) {
	return New(cfg, warehouse, storage).DAG(PhaseAll)
}

// IngestWalmartSales provisions, loads and merges in one run.
func IngestWalmartSales(ctx context.Context, cfg *config.Config, warehouse Warehouse, storage StorageService, opts RunOptions) (*Outcome, error) {
	return New(cfg, warehouse, storage).Run(ctx, PhaseAll, opts)
}

// Provision creates the dataset and the three tables.
func Provision(ctx context.Context, cfg *config.Config, warehouse Warehouse, opts RunOptions) (*Outcome, error) {
	return New(cfg, warehouse, nil).Run(ctx, PhaseProvision, opts)
}

// Load runs both truncate-and-replace loads in parallel.
func Load(ctx context.Context, cfg *config.Config, warehouse Warehouse, storage StorageService, opts RunOptions) (*Outcome, error) {
	return New(cfg, warehouse, storage).Run(ctx, PhaseLoad, opts)
}

// Merge runs the merge into the target table.
func Merge(ctx context.Context, cfg *config.Config, warehouse Warehouse, opts RunOptions) (*Outcome, error) {
	return New(cfg, warehouse, nil).Run(ctx, PhaseMerge, opts)
}

// ErrUnknownPhase is returned by ParsePhase.
var ErrUnknownPhase = errors.New("unknown phase")

// ParsePhase maps a name to a Phase. The empty string means PhaseAll.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case "", PhaseAll:
		return PhaseAll, nil
	case PhaseProvision, PhaseLoad, PhaseMerge:
		return Phase(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownPhase, s)
}
