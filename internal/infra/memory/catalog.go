package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
)

// CatalogCache caches each exam's question catalog with a TTL to keep the
// answer hot path off the backing store. Catalogs are immutable once an
// exam leaves CREATED, so a stale read is only possible while authoring.
type CatalogCache struct {
	source app.QuestionRepository
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[int64]cachedCatalog
	byID  map[int64]int64 // questionID -> examID, filled on load
}

type cachedCatalog struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCatalogCache(source app.QuestionRepository, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedCatalog),
		byID:   make(map[int64]int64),
	}
}

func (c *CatalogCache) ListByExam(ctx context.Context, examID int64) ([]domain.Question, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[examID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(strconv.FormatInt(examID, 10), func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[examID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		questions, err := c.source.ListByExam(ctx, examID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[examID] = cachedCatalog{
			questions: questions,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		for _, q := range questions {
			c.byID[q.ID] = examID
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *CatalogCache) FindByID(ctx context.Context, questionID int64) (domain.Question, error) {
	c.mu.RLock()
	examID, indexed := c.byID[questionID]
	var entry cachedCatalog
	if indexed {
		entry = c.cache[examID]
	}
	c.mu.RUnlock()

	if indexed && entry.expiresAt.After(c.clock()) {
		for _, q := range entry.questions {
			if q.ID == questionID {
				return q, nil
			}
		}
	}
	return c.source.FindByID(ctx, questionID)
}

func (c *CatalogCache) CountByExam(ctx context.Context, examID int64) (int64, error) {
	questions, err := c.ListByExam(ctx, examID)
	if err != nil {
		return 0, err
	}
	return int64(len(questions)), nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
