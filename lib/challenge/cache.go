package challenge

import (
	"container/list"
	"sync"
	"time"
)

// Cache holds the outstanding challenges of one authenticator. It is purely
// in-memory: everything in it is lost when the process exits.
//
// Expiry is lazy. Records stay visible to Get until SweepExpired evicts them or
// they are removed, so callers that care about precision sweep before looking
// records up.
type Cache struct {
	lock  sync.Mutex
	byKey map[string]*list.Element
	order *list.List // of *Record, oldest first
	gen   uint64
}

func NewCache() *Cache {
	return &Cache{
		byKey: map[string]*list.Element{},
		order: list.New(),
	}
}

// Add stores rec under rec.Key, stamping its creation time. A record already
// stored under the same key is replaced and returned.
func (c *Cache) Add(rec Record) (Record, bool) {
	if rec.Retention < 0 {
		rec.Retention = 0
	}
	rec.CreatedAt = time.Now()

	c.lock.Lock()
	defer c.lock.Unlock()

	c.gen++
	rec.gen = c.gen

	var (
		replaced Record
		ok       bool
	)
	if elem, found := c.byKey[rec.Key]; found {
		replaced, ok = *c.order.Remove(elem).(*Record), true
	}

	c.byKey[rec.Key] = c.order.PushBack(&rec)
	return replaced, ok
}

func (c *Cache) Get(key string) (Record, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	elem, ok := c.byKey[key]
	if !ok {
		return Record{}, false
	}

	return *elem.Value.(*Record), true
}

func (c *Cache) Remove(key string) (Record, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	elem, ok := c.byKey[key]
	if !ok {
		return Record{}, false
	}

	return c.removeLocked(elem), true
}

// Take removes rec only if the cache still holds that exact issuance of it.
// It returns false when the key is gone or was re-issued since rec was read.
func (c *Cache) Take(rec Record) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	elem, ok := c.byKey[rec.Key]
	if !ok || elem.Value.(*Record).gen != rec.gen {
		return false
	}

	c.removeLocked(elem)
	return true
}

// SweepExpired evicts every record that is expired at now and returns them in
// the order they were added.
func (c *Cache) SweepExpired(now time.Time) []Record {
	c.lock.Lock()
	defer c.lock.Unlock()

	var result []Record
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*Record).Expired(now) {
			result = append(result, c.removeLocked(elem))
		}
		elem = next
	}

	return result
}

func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.order.Len()
}

func (c *Cache) removeLocked(elem *list.Element) Record {
	rec := c.order.Remove(elem).(*Record)
	delete(c.byKey, rec.Key)
	return *rec
}
