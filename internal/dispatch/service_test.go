package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type allocationRow struct {
	id, jobID, stockItemID, quantity int64
}

type memoryRepo struct {
	mu          sync.Mutex
	jobs        map[int64]jobcard.Job
	allocations []allocationRow
	scans       []Scan
	closed      map[int64]int64
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{jobs: map[int64]jobcard.Job{}, closed: map[int64]int64{}}
}

func (r *memoryRepo) seedJob(id int64, status jobcard.Status) {
	r.jobs[id] = jobcard.Job{ID: id, CompanyID: 1, WorkflowStatus: status}
}

func (r *memoryRepo) allocate(jobID, itemID, qty int64) {
	r.nextID++
	r.allocations = append(r.allocations, allocationRow{id: r.nextID, jobID: jobID, stockItemID: itemID, quantity: qty})
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make(map[int64]jobcard.Job, len(r.jobs))
	for k, v := range r.jobs {
		jobs[k] = v
	}
	scans := append([]Scan(nil), r.scans...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.jobs, r.scans = jobs, scans
		return err
	}
	return nil
}

func (r *memoryRepo) GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job(companyID, jobID)
}

func (r *memoryRepo) job(companyID, jobID int64) (jobcard.Job, error) {
	job, ok := r.jobs[jobID]
	if !ok || job.CompanyID != companyID {
		return jobcard.Job{}, shared.ErrNotFound
	}
	return job, nil
}

func (r *memoryRepo) progress(jobID int64) []ItemProgress {
	byItem := map[int64]*ItemProgress{}
	for _, a := range r.allocations {
		if a.jobID != jobID {
			continue
		}
		p, ok := byItem[a.stockItemID]
		if !ok {
			p = &ItemProgress{StockItemID: a.stockItemID}
			byItem[a.stockItemID] = p
		}
		p.Allocated += a.quantity
	}
	for _, sc := range r.scans {
		if p, ok := byItem[sc.StockItemID]; ok && sc.JobID == jobID {
			p.Dispatched += sc.QuantityDispatched
		}
	}
	out := []ItemProgress{}
	for _, p := range byItem {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockItemID < out[j].StockItemID })
	return out
}

func (r *memoryRepo) ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress(jobID), nil
}

func (r *memoryRepo) ListScans(ctx context.Context, companyID, jobID int64) ([]Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Scan{}
	for _, sc := range r.scans {
		if sc.JobID == jobID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (t *memoryTx) JobStatusForShare(ctx context.Context, companyID, jobID int64) (jobcard.Status, error) {
	job, err := t.repo.job(companyID, jobID)
	return job.WorkflowStatus, err
}

func (t *memoryTx) LockJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return t.repo.job(companyID, jobID)
}

func (t *memoryTx) LockAllocations(ctx context.Context, companyID, jobID, stockItemID int64) ([]AllocationRef, error) {
	var refs []AllocationRef
	for _, a := range t.repo.allocations {
		if a.jobID == jobID && a.stockItemID == stockItemID {
			refs = append(refs, AllocationRef{ID: a.id, QuantityUsed: a.quantity})
		}
	}
	return refs, nil
}

func (t *memoryTx) DispatchedQuantity(ctx context.Context, companyID, jobID, stockItemID int64) (int64, error) {
	var total int64
	for _, sc := range t.repo.scans {
		if sc.JobID == jobID && sc.StockItemID == stockItemID {
			total += sc.QuantityDispatched
		}
	}
	return total, nil
}

func (t *memoryTx) InsertScan(ctx context.Context, scan Scan) (Scan, error) {
	t.repo.nextID++
	scan.ID = t.repo.nextID
	scan.ScannedAt = time.Now()
	t.repo.scans = append(t.repo.scans, scan)
	return scan, nil
}

func (t *memoryTx) ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error) {
	return t.repo.progress(jobID), nil
}

func (t *memoryTx) CloseDispatchApproval(ctx context.Context, actor shared.Actor, jobID int64, at time.Time) error {
	t.repo.closed[jobID] = actor.ID
	return nil
}

func (t *memoryTx) MarkDispatched(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	job := t.repo.jobs[jobID]
	if job.WorkflowStatus != jobcard.StatusReadyForDispatch {
		return jobcard.Job{}, shared.ErrInvalidState
	}
	job.WorkflowStatus = jobcard.StatusDispatched
	t.repo.jobs[jobID] = job
	return job, nil
}

var storeman = shared.Actor{ID: 9, Name: "Stan", Role: shared.RoleStoreman, CompanyID: 1}

func TestDispatchScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedJob(1, jobcard.StatusReadyForDispatch)
	repo.allocate(1, 100, 60)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), session.Progress.TotalAllocated)
	assert.False(t, session.Progress.IsComplete)

	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 30})
	require.NoError(t, err)
	progress, err := svc.Progress(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, progress.Items, 1)
	assert.Equal(t, int64(30), progress.Items[0].Remaining())

	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 31})
	require.ErrorIs(t, err, shared.ErrExceedsAllocation)

	_, err = svc.Complete(ctx, storeman, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 30})
	require.NoError(t, err)
	progress, err = svc.Progress(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), progress.Items[0].Remaining())
	assert.True(t, progress.IsComplete)

	job, err := svc.Complete(ctx, storeman, 1)
	require.NoError(t, err)
	assert.Equal(t, jobcard.StatusDispatched, job.WorkflowStatus)
	assert.Equal(t, storeman.ID, repo.closed[1])

	history, err := svc.History(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestScanRequiresReadyJobAndAllocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedJob(1, jobcard.StatusManagerFinal)
	repo.seedJob(2, jobcard.StatusReadyForDispatch)
	repo.allocate(1, 100, 5)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, 1, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.ScanItem(ctx, storeman, 2, ScanInput{StockItemID: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotAllocated)
	_, err = svc.ScanItem(ctx, storeman, 2, ScanInput{StockItemID: 100, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ScanItem(ctx, storeman, 3, ScanInput{StockItemID: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, repo.scans)
}

func TestMultipleAllocationsOfSameItemAreSummed(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedJob(1, jobcard.StatusReadyForDispatch)
	repo.allocate(1, 100, 10)
	repo.allocate(1, 100, 15)
	repo.allocate(1, 200, 4)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 25})
	require.NoError(t, err)
	_, err = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrExceedsAllocation)

	progress, err := svc.Progress(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(29), progress.TotalAllocated)
	assert.Equal(t, int64(25), progress.TotalDispatched)
	assert.False(t, progress.IsComplete)

	complete, err := svc.IsComplete(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestConcurrentScansNeverExceedAllocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedJob(1, jobcard.StatusReadyForDispatch)
	repo.allocate(1, 100, 60)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.ScanItem(ctx, storeman, 1, ScanInput{StockItemID: 100, Quantity: 10})
		}()
	}
	wg.Wait()

	progress, err := svc.Progress(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), progress.TotalDispatched)
	assert.Len(t, repo.scans, 6)
	assert.True(t, progress.IsComplete)
}

func TestJobWithoutAllocationsIsComplete(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedJob(1, jobcard.StatusReadyForDispatch)
	svc := NewService(repo, nil, nil, nil)

	job, err := svc.Complete(context.Background(), storeman, 1)
	require.NoError(t, err)
	assert.Equal(t, jobcard.StatusDispatched, job.WorkflowStatus)
}
