package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"staffchat/internal/config"
	"staffchat/internal/model"
	"staffchat/internal/queue"
	"staffchat/internal/rag"
	"staffchat/internal/repository"
	"staffchat/internal/token"
)

const metricsLogPrefix = "processing_metrics"

// IndexWorker drains the document indexing queue. A job with a source_path is
// parsed first through the external parser; small parsed documents are marked
// inline and skip indexing, everything else goes through the external indexer
// and is recorded in rag_index. Run one instance per queue: jobs are not
// claimed, so concurrent workers would double-process.
type IndexWorker struct {
	jobs    *queue.JobQueue
	docs    *repository.DocumentRepository
	index   *repository.RAGIndexRepository
	status  *rag.StatusStore
	cfg     config.RAGConfig
	counter *token.ExactCounter
}

func NewIndexWorker(
	jobs *queue.JobQueue,
	docs *repository.DocumentRepository,
	index *repository.RAGIndexRepository,
	status *rag.StatusStore,
	cfg config.RAGConfig,
	counter *token.ExactCounter,
) *IndexWorker {
	return &IndexWorker{
		jobs:    jobs,
		docs:    docs,
		index:   index,
		status:  status,
		cfg:     cfg,
		counter: counter,
	}
}

// Run polls the queue until the context is cancelled.
func (w *IndexWorker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx, 0); err != nil {
				log.Printf("index worker pass failed: %v", err)
			}
		}
	}
}

// ProcessPending handles up to maxJobs queued jobs in filename order. A zero
// maxJobs drains the queue. One failing job moves to failed/ and never blocks
// the rest of the pass.
func (w *IndexWorker) ProcessPending(ctx context.Context, maxJobs int) (int, error) {
	pending, err := w.jobs.Pending()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, jobFile := range pending {
		if maxJobs > 0 && processed >= maxJobs {
			break
		}
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		var job rag.IndexJob
		if err := w.jobs.Load(jobFile, &job); err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				continue // claimed by cleanup between listing and load
			}
			log.Printf("index worker: bad job %s: %v", filepath.Base(jobFile), err)
			_ = w.jobs.Fail(jobFile)
			continue
		}
		if job.DocumentID == 0 {
			log.Printf("index worker: job %s has no document id", filepath.Base(jobFile))
			_ = w.jobs.Fail(jobFile)
			continue
		}

		w.processJob(ctx, jobFile, &job)
		processed++
	}
	return processed, nil
}

func (w *IndexWorker) processJob(ctx context.Context, jobFile string, job *rag.IndexJob) {
	if job.SourcePath != "" {
		shouldIndex, err := w.parseAndPersist(ctx, job)
		if err != nil {
			_ = w.status.Write(job.DocumentID, "failed", "parsing", err.Error(), 0)
			_ = w.jobs.Fail(jobFile)
			return
		}

		if !shouldIndex {
			_ = w.status.Write(job.DocumentID, "complete", "ready", "Document ready for chat", 100)
			_ = w.status.Clear(job.DocumentID)
			_ = w.jobs.Complete(jobFile)
			return
		}

		if err := w.jobs.Rewrite(jobFile, job); err != nil {
			_ = w.status.Write(job.DocumentID, "failed", "parsing", "unable to persist parser results to job file", 0)
			_ = w.jobs.Fail(jobFile)
			return
		}
		_ = w.status.Write(job.DocumentID, "queued", "indexing", "Waiting for indexing", 60)
	}

	_ = w.status.Write(job.DocumentID, "running", "indexing", "Indexing document", 70)

	result, combined, runErr := w.runIndexer(ctx, jobFile)
	w.logMetrics(job, result, runErr, combined)

	if runErr == nil && result != nil && result.OK {
		collection := result.Collection
		if collection == "" {
			collection = job.Collection
		}
		entry := &model.RAGIndexEntry{
			DocumentID: job.DocumentID,
			Collection: collection,
			Ready:      true,
			ChunkCount: result.ChunkCount,
		}
		if err := w.index.Upsert(entry); err != nil {
			log.Printf("index worker: record index for document %d failed: %v", job.DocumentID, err)
			_ = w.status.Write(job.DocumentID, "failed", "indexing", "unable to record index entry", 0)
			_ = w.jobs.Fail(jobFile)
			return
		}

		_ = w.status.Write(job.DocumentID, "complete", "ready", "Document ready for chat", 100)
		_ = w.status.Clear(job.DocumentID)
		_ = w.jobs.Complete(jobFile)
		if job.CleanupTmp && job.FilePath != "" {
			_ = os.Remove(job.FilePath)
		}
		return
	}

	message := tailOf(combined, 400)
	progress := 0.0
	if result != nil {
		if result.Error != "" {
			message = result.Error
		}
		progress = result.Progress
	}
	if runErr != nil && message == "" {
		message = runErr.Error()
	}
	log.Printf("index worker: document %d failed: %s", job.DocumentID, message)
	_ = w.status.Write(job.DocumentID, "failed", "indexing", message, progress)
	_ = w.jobs.Fail(jobFile)
}

// parseAndPersist runs the external parser, stores the extracted text on the
// document row and decides whether indexing is still needed. Parsed text at
// or under the inline threshold is served whole and never indexed.
func (w *IndexWorker) parseAndPersist(ctx context.Context, job *rag.IndexJob) (shouldIndex bool, err error) {
	if _, statErr := os.Stat(job.SourcePath); statErr != nil {
		return false, fmt.Errorf("source file missing for parsing: %w", statErr)
	}

	_ = w.status.Write(job.DocumentID, "running", "parsing", "Parsing document", 1)

	parsedPath := filepath.Join(w.jobs.Paths().Parsed, "rag_"+uuid.NewString()+".txt")
	out, err := os.Create(parsedPath)
	if err != nil {
		return false, fmt.Errorf("create parsed output file: %w", err)
	}

	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(job.SourcePath)
	}

	cmd := exec.CommandContext(ctx, w.cfg.Python, w.cfg.Parser, job.SourcePath, filename)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		"PARSER_STATUS_FILE="+filepath.Join(w.jobs.Paths().Status, fmt.Sprintf("doc_%d.json", job.DocumentID)),
		fmt.Sprintf("PARSER_JOB_ID=%d", job.DocumentID),
	)

	runErr := cmd.Run()
	closeErr := out.Close()
	if runErr != nil {
		_ = os.Remove(parsedPath)
		w.cleanupSource(job)
		return false, fmt.Errorf("parser failed: %v %s", runErr, tailOf(stderr.String(), 400))
	}
	if closeErr != nil {
		_ = os.Remove(parsedPath)
		w.cleanupSource(job)
		return false, fmt.Errorf("flush parsed output: %w", closeErr)
	}

	parsedBytes, err := os.ReadFile(parsedPath)
	if err != nil || len(parsedBytes) == 0 {
		_ = os.Remove(parsedPath)
		w.cleanupSource(job)
		return false, errors.New("parser returned no output")
	}
	parsedText := string(parsedBytes)
	tokenLength := w.countTokens(parsedText)

	inlineMax := w.cfg.InlineTokenMax
	if inlineMax <= 0 {
		inlineMax = 4000
	}
	shouldIndex = tokenLength == 0 || tokenLength > inlineMax

	doc, err := w.docs.GetByID(job.DocumentID)
	if err != nil {
		_ = os.Remove(parsedPath)
		return false, err
	}
	if doc == nil {
		_ = os.Remove(parsedPath)
		w.cleanupSource(job)
		return false, fmt.Errorf("document %d no longer exists", job.DocumentID)
	}

	doc.Content = parsedText
	doc.TokenLength = tokenLength
	doc.FullTextAvailable = true
	if shouldIndex {
		doc.Source = model.DocumentSourceRAG
	} else {
		doc.Source = model.DocumentSourceInline
	}
	if err := w.docs.Update(doc); err != nil {
		_ = os.Remove(parsedPath)
		return false, fmt.Errorf("persist parsed document: %w", err)
	}

	w.cleanupSource(job)
	job.SourcePath = ""

	if !shouldIndex {
		_ = os.Remove(parsedPath)
		return false, nil
	}

	job.FilePath = parsedPath
	job.ParsedSizeBytes = int64(len(parsedBytes))
	job.CleanupTmp = true
	return true, nil
}

func (w *IndexWorker) cleanupSource(job *rag.IndexJob) {
	if job.CleanupTmp && job.SourcePath != "" {
		_ = os.Remove(job.SourcePath)
	}
}

func (w *IndexWorker) countTokens(text string) int {
	if w.counter != nil {
		return w.counter.Count(text)
	}
	return token.Estimate(text)
}

func (w *IndexWorker) runIndexer(ctx context.Context, jobFile string) (*rag.IndexResult, string, error) {
	cmd := exec.CommandContext(ctx, w.cfg.Python, "-u", w.cfg.Indexer, "--json", jobFile)
	cmd.Dir = filepath.Dir(w.cfg.Indexer)
	cmd.Env = append(os.Environ(), "PYTHONPATH="+filepath.Dir(w.cfg.Indexer))

	output, err := cmd.CombinedOutput()
	combined := strings.TrimSpace(string(output))
	result := rag.ParseIndexResult(combined)
	if err != nil {
		return result, combined, fmt.Errorf("indexer failed: %w", err)
	}
	if result == nil {
		return nil, combined, errors.New("indexer produced no result")
	}
	return result, combined, nil
}

func (w *IndexWorker) logMetrics(job *rag.IndexJob, result *rag.IndexResult, runErr error, combined string) {
	record := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"document_id": job.DocumentID,
		"chat_id":     job.ChatID,
		"filename":    job.Filename,
		"ok":          runErr == nil && result != nil && result.OK,
	}
	if result != nil {
		record["chunk_count"] = result.ChunkCount
		record["collection"] = result.Collection
		if result.Error != "" {
			record["error"] = result.Error
		}
	} else if runErr != nil {
		record["error"] = runErr.Error()
	}
	if runErr != nil && combined != "" {
		record["output_tail"] = tailOf(combined, 400)
	}
	if err := w.jobs.AppendLog(metricsLogPrefix, record); err != nil {
		log.Printf("index worker: write metrics failed: %v", err)
	}
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[len(s)-n:])
}
