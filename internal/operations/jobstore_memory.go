package operations

import (
	"sort"
	"sync"
	"time"
)

// JobStore persists jobs and their snapshots. Implementations return copies.
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	ListJobs(filter JobFilter) ([]*Job, error)
	DeleteJob(id string) error

	SaveSnapshot(snap *Snapshot) error
	GetSnapshot(jobID string) (*Snapshot, error)

	// CleanupOldJobs drops finished jobs created more than olderThan ago.
	CleanupOldJobs(olderThan time.Duration) int
}

// MemoryJobStore is an in-memory implementation of JobStore
type MemoryJobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	snapshots map[string]*Snapshot
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:      make(map[string]*Job),
		snapshots: make(map[string]*Snapshot),
	}
}

// CreateJob creates a new job
func (s *MemoryJobStore) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return jobError(job.ID, "create", ErrJobExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryJobStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, jobError(id, "get", ErrJobNotFound)
	}
	return job.Clone(), nil
}

// UpdateJob updates an existing job
func (s *MemoryJobStore) UpdateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return jobError(job.ID, "update", ErrJobNotFound)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// ListJobs returns matching jobs, newest first.
func (s *MemoryJobStore) ListJobs(filter JobFilter) ([]*Job, error) {
	s.mu.RLock()
	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && job.CreatedAt.Before(filter.Since) {
			continue
		}
		result = append(result, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteJob removes a job and its snapshot.
func (s *MemoryJobStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return jobError(id, "delete", ErrJobNotFound)
	}
	delete(s.jobs, id)
	delete(s.snapshots, id)
	return nil
}

// SaveSnapshot replaces the snapshot of a known job.
func (s *MemoryJobStore) SaveSnapshot(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[snap.JobID]; !exists {
		return jobError(snap.JobID, "save snapshot", ErrJobNotFound)
	}
	s.snapshots[snap.JobID] = snap.Clone()
	return nil
}

// GetSnapshot returns the snapshot of a job.
func (s *MemoryJobStore) GetSnapshot(jobID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.snapshots[jobID]
	if !exists {
		return nil, jobError(jobID, "get snapshot", ErrJobNotFound)
	}
	return snap.Clone(), nil
}

// CleanupOldJobs removes finished jobs created before now minus olderThan.
func (s *MemoryJobStore) CleanupOldJobs(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.snapshots, id)
			deleted++
		}
	}
	return deleted
}

// GetStats counts jobs by status.
func (s *MemoryJobStore) GetStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{"total": len(s.jobs)}
	for _, st := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		stats[string(st)] = 0
	}
	for _, job := range s.jobs {
		stats[string(job.Status)]++
	}
	return stats
}
