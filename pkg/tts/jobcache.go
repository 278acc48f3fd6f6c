package tts

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vocabvoice/pkg/model"
)

// CachedJob is a generation result kept for the download proxy.
type CachedJob struct {
	Job   model.GenerationJob
	Audio []byte // nil until downloaded
	Ext   string
}

// JobCache is a bounded, expiring map of job id to result.
type JobCache struct {
	lru *expirable.LRU[string, CachedJob]
}

// NewJobCache creates a cache holding at most size jobs for ttl.
func NewJobCache(size int, ttl time.Duration) *JobCache {
	if size <= 0 {
		size = 128
	}
	return &JobCache{lru: expirable.NewLRU[string, CachedJob](size, nil, ttl)}
}

// Put stores or replaces a job.
func (c *JobCache) Put(j CachedJob) {
	c.lru.Add(j.Job.ID, j)
}

// Get returns a cached job.
func (c *JobCache) Get(id string) (CachedJob, bool) {
	return c.lru.Get(id)
}

// Len returns the number of live entries.
func (c *JobCache) Len() int {
	return c.lru.Len()
}
