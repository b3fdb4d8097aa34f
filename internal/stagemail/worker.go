package stagemail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/hireflow/internal/mailer"
	"github.com/ignite/hireflow/internal/pipeline"
	"github.com/ignite/hireflow/internal/pkg/logger"
	"github.com/ignite/hireflow/internal/template"
	"github.com/ignite/hireflow/internal/tracking"
)

// DeliveryWorker polls the queue for due pending rows and executes sends.
// Multiple instances may run against the same database; the claim query
// guarantees each row is processed by exactly one of them.
type DeliveryWorker struct {
	store      *Store
	candidates *pipeline.Store
	transport  mailer.Transport
	layouts    *template.LayoutEngine
	injector   *tracking.Injector

	fromName  string
	fromEmail string
	replyTo   string

	pollInterval time.Duration
	numWorkers   int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDeliveryWorker creates a delivery worker.
func NewDeliveryWorker(store *Store, candidates *pipeline.Store, transport mailer.Transport,
	layouts *template.LayoutEngine, injector *tracking.Injector,
	fromName, fromEmail, replyTo string, pollInterval time.Duration, numWorkers int) *DeliveryWorker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &DeliveryWorker{
		store:        store,
		candidates:   candidates,
		transport:    transport,
		layouts:      layouts,
		injector:     injector,
		fromName:     fromName,
		fromEmail:    fromEmail,
		replyTo:      replyTo,
		pollInterval: pollInterval,
		numWorkers:   numWorkers,
	}
}

// Start launches the polling goroutines. Safe to call once; subsequent
// calls while running are no-ops.
func (w *DeliveryWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	for i := 0; i < w.numWorkers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	logger.Info("delivery worker started", "workers", w.numWorkers,
		"poll_interval", w.pollInterval.String())
}

// Stop signals the goroutines and waits for in-flight sends to finish.
func (w *DeliveryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logger.Info("delivery worker stopped")
}

func (w *DeliveryWorker) run(id int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drain(id)
		}
	}
}

// drain processes due rows until the queue is empty or stop is signalled.
func (w *DeliveryWorker) drain(workerID int) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		processed, err := w.ProcessOne(context.Background())
		if err != nil {
			logger.Error("queue processing error", "worker", workerID, "error", err.Error())
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessOne claims and executes at most one due queue row. Returns false
// when nothing was due. Exported so the job runner can also invoke the
// worker on demand; redundant invocations are safe because the claim is
// atomic.
func (w *DeliveryWorker) ProcessOne(ctx context.Context) (bool, error) {
	q, err := w.store.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if q == nil {
		return false, nil
	}

	w.process(ctx, q)
	return true, nil
}

func (w *DeliveryWorker) process(ctx context.Context, q *QueuedEmail) {
	candidate, err := w.candidates.GetCandidate(ctx, q.CandidateID)
	if err != nil {
		w.fail(ctx, q, fmt.Sprintf("candidate lookup: %v", err))
		return
	}

	// Re-validate at send time: the candidate may have moved on or left
	// the pipeline while the row sat in the queue.
	switch {
	case candidate == nil:
		w.skip(ctx, q, "candidate no longer exists")
		return
	case !candidate.Active():
		w.skip(ctx, q, "candidate is "+candidate.Status)
		return
	case candidate.CurrentStage != q.ToStage:
		w.skip(ctx, q, "candidate moved to "+candidate.CurrentStage)
		return
	}

	tpl, err := w.store.GetTemplate(ctx, q.TemplateID)
	if err != nil {
		w.fail(ctx, q, fmt.Sprintf("template lookup: %v", err))
		return
	}
	if tpl == nil {
		w.fail(ctx, q, "template missing or inactive")
		return
	}

	subject := template.Render(tpl.Subject, q.Variables)
	body := template.Render(tpl.Body, q.Variables)
	html := w.layouts.Wrap(tpl.Layout, body, q.Variables)
	html = w.injector.Inject(html, q.ID)

	msg := &mailer.Message{
		To:        candidate.Email,
		ToName:    candidate.FullName,
		FromName:  w.fromName,
		FromEmail: w.fromEmail,
		ReplyTo:   w.replyTo,
		Subject:   subject,
		HTML:      html,
		Tags:      map[string]string{"queue_id": q.ID.String(), "stage": q.ToStage},
	}

	if err := w.transport.Send(ctx, msg); err != nil {
		w.fail(ctx, q, err.Error())
		return
	}

	if err := w.store.MarkSent(ctx, q.ID); err != nil {
		// The email went out but the row could not be finalized. Rare;
		// flagged loudly for manual reconciliation rather than retried,
		// since a retry would send the candidate a duplicate.
		logger.Error("email sent but state update failed, needs manual reconciliation",
			"queue_id", q.ID.String(), "candidate_id", q.CandidateID.String(), "error", err.Error())
		return
	}

	logger.Info("stage email sent", "queue_id", q.ID.String(),
		"candidate_id", q.CandidateID.String(), "to_stage", q.ToStage)
}

func (w *DeliveryWorker) skip(ctx context.Context, q *QueuedEmail, reason string) {
	if err := w.store.MarkSkipped(ctx, q.ID, reason); err != nil {
		logger.Error("mark skipped failed", "queue_id", q.ID.String(), "error", err.Error())
		return
	}
	logger.Info("stage email skipped", "queue_id", q.ID.String(), "reason", reason)
}

func (w *DeliveryWorker) fail(ctx context.Context, q *QueuedEmail, msg string) {
	if err := w.store.MarkFailed(ctx, q.ID, msg); err != nil {
		logger.Error("mark failed failed", "queue_id", q.ID.String(), "error", err.Error())
		return
	}
	logger.Warn("stage email failed", "queue_id", q.ID.String(), "error", msg)
}
