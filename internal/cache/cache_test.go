package cache

import (
	"encoding/json"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scrapeworks/osint-worker/api/types"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time            { return f.t }
func (f *fakeClock) Advance(d time.Duration)   { f.t = f.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

var _ = Describe("Cache", func() {
	var clock *fakeClock
	var c *Cache

	BeforeEach(func() {
		clock = newFakeClock()
		c = NewWithClock(Config{MaxSize: 10}, clock.Now)
	})

	It("stores and returns payloads", func() {
		c.Put("fp", json.RawMessage(`{"users":[]}`), ClassUserData)
		got, ok := c.Get("fp")
		Expect(ok).To(BeTrue())
		Expect(string(got)).To(Equal(`{"users":[]}`))
	})

	It("never returns a user_data entry after its 3600s TTL", func() {
		c.Put("fp", json.RawMessage(`1`), ClassUserData)

		clock.Advance(3599 * time.Second)
		_, ok := c.Get("fp")
		Expect(ok).To(BeTrue())

		clock.Advance(1 * time.Second)
		_, ok = c.Get("fp")
		Expect(ok).To(BeFalse())
	})

	It("keeps timeline_data for its longer TTL", func() {
		c.Put("fp", json.RawMessage(`1`), ClassTimelineData)
		clock.Advance(3601 * time.Second)
		_, ok := c.Get("fp")
		Expect(ok).To(BeTrue())
		clock.Advance(21600 * time.Second)
		_, ok = c.Get("fp")
		Expect(ok).To(BeFalse())
	})

	It("evicts expired entries on read", func() {
		c.Put("fp", json.RawMessage(`1`), ClassUserData)
		clock.Advance(4000 * time.Second)
		c.Get("fp")
		Expect(c.Len()).To(Equal(0))
	})

	It("lets a fresher write win for the same fingerprint", func() {
		c.Put("fp", json.RawMessage(`"old"`), ClassUserData)
		c.Put("fp", json.RawMessage(`"new"`), ClassUserData)
		got, ok := c.Get("fp")
		Expect(ok).To(BeTrue())
		Expect(string(got)).To(Equal(`"new"`))
	})

	It("evicts oldest when max size is reached", func() {
		small := NewWithClock(Config{MaxSize: 3}, clock.Now)
		for i := 0; i < 5; i++ {
			small.Put(fmt.Sprintf("fp-%d", i), json.RawMessage(`1`), ClassUserData)
		}
		Expect(small.Len()).To(Equal(3))
		_, ok := small.Get("fp-0")
		Expect(ok).To(BeFalse())
		_, ok = small.Get("fp-4")
		Expect(ok).To(BeTrue())
	})

	It("sweeps expired entries in cleanup", func() {
		c.Put("a", json.RawMessage(`1`), ClassUserData)
		c.Put("b", json.RawMessage(`1`), ClassTimelineData)
		clock.Advance(4000 * time.Second)
		c.cleanupExpired()
		Expect(c.Len()).To(Equal(1))
	})
})

var _ = Describe("ClassFor", func() {
	It("maps timeline to timeline_data and the rest to user_data", func() {
		Expect(ClassFor(types.OperationTimeline)).To(Equal(ClassTimelineData))
		Expect(ClassFor(types.OperationSearchUser)).To(Equal(ClassUserData))
		Expect(ClassFor(types.OperationFollowing)).To(Equal(ClassUserData))
		Expect(ClassFor(types.OperationFollowers)).To(Equal(ClassUserData))
	})
})
