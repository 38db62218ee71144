package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"staffchat/internal/config"
)

var ErrJobNotFound = errors.New("queue job not found")

// JobQueue is a filesystem-backed work queue. Producers publish JSON job
// files into the queue directory with an atomic write-then-rename; workers
// list the directory, process jobs oldest name first, and move each file to
// completed/ or failed/.
//
// Claiming is best effort: nothing locks a job file between listing and
// processing, so two workers pointed at the same directory can race. The
// deployment runs a single worker per queue, which is the only supported
// arrangement.
type JobQueue struct {
	paths config.WorkspacePaths
}

func New(paths config.WorkspacePaths) (*JobQueue, error) {
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	return &JobQueue{paths: paths}, nil
}

func (q *JobQueue) Paths() config.WorkspacePaths { return q.paths }

// Enqueue publishes a job under a fresh unique name. Every call produces a
// new job file.
func (q *JobQueue) Enqueue(prefix string, payload any) (string, error) {
	name := fmt.Sprintf("%s_%d_%s.json", prefix, time.Now().Unix(), uuid.NewString())
	path := filepath.Join(q.paths.Queue, name)
	if err := writeJSONAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// EnqueueNamed publishes a job under a fixed name and deduplicates: if a job
// with that name is already pending, the existing file is left untouched and
// its path returned with created=false.
func (q *JobQueue) EnqueueNamed(name string, payload any) (string, bool, error) {
	path := filepath.Join(q.paths.Queue, name)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := writeJSONAtomic(path, payload); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Pending returns the queued job paths sorted by file name, which orders the
// unique-named jobs by enqueue time.
func (q *JobQueue) Pending() ([]string, error) {
	entries, err := os.ReadDir(q.paths.Queue)
	if err != nil {
		return nil, fmt.Errorf("read queue dir failed: %w", err)
	}
	var jobs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		jobs = append(jobs, filepath.Join(q.paths.Queue, e.Name()))
	}
	sort.Strings(jobs)
	return jobs, nil
}

// Load decodes a pending job file into out.
func (q *JobQueue) Load(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("read job file failed: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode job file %s failed: %w", filepath.Base(path), err)
	}
	return nil
}

// Rewrite replaces a pending job file in place, keeping its name.
func (q *JobQueue) Rewrite(path string, payload any) error {
	return writeJSONAtomic(path, payload)
}

// Complete moves a processed job into the completed directory.
func (q *JobQueue) Complete(path string) error {
	return q.moveTo(path, q.paths.Completed)
}

// Fail moves a job into the failed directory for later inspection.
func (q *JobQueue) Fail(path string) error {
	return q.moveTo(path, q.paths.Failed)
}

// Remove deletes a pending job, e.g. when its document was removed before the
// worker got to it. Missing files are not an error.
func (q *JobQueue) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove job file failed: %w", err)
	}
	return nil
}

// AppendLog appends one JSON line to a per-day log file under logs/.
func (q *JobQueue) AppendLog(prefix string, record any) error {
	name := fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("20060102"))
	path := filepath.Join(q.paths.Logs, name)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal log record failed: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file failed: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append log record failed: %w", err)
	}
	return nil
}

func (q *JobQueue) moveTo(path, dir string) error {
	target := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move job file failed: %w", err)
	}
	return nil
}

// writeJSONAtomic publishes the payload with a temp file and rename so a
// concurrent reader never observes a partial job.
func writeJSONAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job payload failed: %w", err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write job temp file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish job file failed: %w", err)
	}
	return nil
}
