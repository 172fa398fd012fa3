package jobserver_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/cache"
	"github.com/scrapeworks/osint-worker/internal/config"
	"github.com/scrapeworks/osint-worker/internal/jobserver"
	"github.com/scrapeworks/osint-worker/internal/scraper"
	"github.com/scrapeworks/osint-worker/internal/session"
	"github.com/scrapeworks/osint-worker/internal/vault"
)

const testMasterKey = "unit-test-master-key"

type testHarness struct {
	server   *jobserver.JobServer
	tasks    *memTaskStore
	driver   *fakeDriver
	vault    *vault.Vault
	sessions *session.Store
	cancel   context.CancelFunc
}

func newHarness(overrides config.JobConfiguration) *testHarness {
	jc := config.JobConfiguration{
		"max_jobs":              2,
		"queue_size":            16,
		"job_timeout_seconds":   5 * time.Second,
		"lease_timeout_seconds": 10 * time.Second,
		"default_tweet_count":   80,
		"min_tweet_count":       20,
		"max_tweet_count":       100,
	}
	for k, v := range overrides {
		jc[k] = v
	}

	tasks := newMemTaskStore()
	creds := newMemCredentialStore()
	v := vault.New(testMasterKey, creds)
	_, err := v.Store(context.Background(), "main", "osint_user", "hunter2")
	Expect(err).NotTo(HaveOccurred())

	sessions := session.NewStore(GinkgoT().TempDir(), 24*time.Hour)
	resultCache := cache.NewWithClock(cache.Config{
		MaxSize: 100,
		TTL: map[cache.TTLClass]time.Duration{
			cache.ClassUserData:     time.Hour,
			cache.ClassTimelineData: 6 * time.Hour,
			cache.ClassTaskResult:   24 * time.Hour,
		},
	}, time.Now)

	driver := newFakeDriver()
	server := jobserver.NewJobServer(jc.GetInt("max_jobs", 2), jc, jobserver.Dependencies{
		Store:       tasks,
		Credentials: v,
		Sessions:    sessions,
		Cache:       resultCache,
		Driver:      driver,
	})

	return &testHarness{
		server:   server,
		tasks:    tasks,
		driver:   driver,
		vault:    v,
		sessions: sessions,
	}
}

func (h *testHarness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.server.Run(ctx)
	DeferCleanup(cancel)
}

func searchParams(query string) types.Parameters {
	return types.Parameters{Query: query}
}

var _ = Describe("JobServer", func() {
	ctx := context.Background()

	Describe("Submit validation", func() {
		var h *testHarness

		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("rejects a search without a query", func() {
			_, err := h.server.Submit(ctx, types.OperationSearchUser, types.Parameters{})
			Expect(err).To(MatchError(jobserver.ErrValidation))
		})

		It("rejects an unknown operation type", func() {
			_, err := h.server.Submit(ctx, types.OperationType("export_dms"), types.Parameters{})
			Expect(err).To(MatchError(jobserver.ErrValidation))
		})

		It("rejects an out-of-range limit", func() {
			_, err := h.server.Submit(ctx, types.OperationSearchUser, types.Parameters{Query: "osint", Limit: 101})
			Expect(err).To(MatchError(jobserver.ErrValidation))
		})

		It("rejects a timeline count below the configured minimum", func() {
			_, err := h.server.Submit(ctx, types.OperationTimeline, types.Parameters{Username: "someone", Count: 5})
			Expect(err).To(MatchError(jobserver.ErrValidation))
		})

		It("rejects a following request without a username", func() {
			_, err := h.server.Submit(ctx, types.OperationFollowing, types.Parameters{})
			Expect(err).To(MatchError(jobserver.ErrValidation))
		})
	})

	Describe("asynchronous task lifecycle", func() {
		var h *testHarness

		BeforeEach(func() {
			h = newHarness(nil)
			h.start()
		})

		It("executes an accepted task through to SUCCESS", func() {
			view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("open source intel"))
			Expect(err).NotTo(HaveOccurred())
			Expect(view.TaskID).NotTo(BeEmpty())
			Expect(view.Status.Terminal()).To(BeFalse())

			Eventually(func() types.TaskStatus {
				current, err := h.server.Status(ctx, view.TaskID)
				Expect(err).NotTo(HaveOccurred())
				return current.Status
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(types.TaskStatusSuccess))

			final, err := h.server.Status(ctx, view.TaskID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Result).NotTo(BeEmpty())
			Expect(final.ResultSize).To(Equal(1))
			Expect(final.Cached).To(BeFalse())
			Expect(final.CompletedAt).NotTo(BeNil())
		})

		It("serves an identical repeat request from the cache without scraping again", func() {
			first, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("osint"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() types.TaskStatus {
				current, _ := h.server.Status(ctx, first.TaskID)
				return current.Status
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(types.TaskStatusSuccess))
			scrapesBefore := h.driver.scrapes()

			second, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("  OSINT "))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.TaskID).NotTo(Equal(first.TaskID))
			Expect(second.Status).To(Equal(types.TaskStatusSuccess))
			Expect(second.Cached).To(BeTrue())
			Expect(second.Result).NotTo(BeEmpty())
			Expect(h.driver.scrapes()).To(Equal(scrapesBefore))
		})

		It("returns ErrTaskNotFound for an unknown task id", func() {
			_, err := h.server.Status(ctx, "no-such-task")
			Expect(err).To(MatchError(jobserver.ErrTaskNotFound))
		})
	})

	Describe("single-flight deduplication", func() {
		var (
			h       *testHarness
			release chan struct{}
		)

		BeforeEach(func() {
			h = newHarness(nil)
			release = make(chan struct{})
			h.driver.scrapeFunc = func(ctx context.Context, _ json.RawMessage, op types.OperationType, _ types.Parameters) (*scraper.Result, error) {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return &scraper.Result{Users: []scraper.Profile{{Username: "hit"}}}, nil
			}
			h.start()
		})

		It("gives concurrent identical submissions the same task id", func() {
			results := make([]types.Task, 8)
			var wg sync.WaitGroup
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("dedup me"))
					Expect(err).NotTo(HaveOccurred())
					results[i] = view
				}(i)
			}
			wg.Wait()
			close(release)

			for _, view := range results[1:] {
				Expect(view.TaskID).To(Equal(results[0].TaskID))
			}
		})

		It("keeps submissions with different parameters apart", func() {
			a, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("alpha"))
			Expect(err).NotTo(HaveOccurred())
			b, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("beta"))
			Expect(err).NotTo(HaveOccurred())
			close(release)

			Expect(a.TaskID).NotTo(Equal(b.TaskID))
		})
	})

	Describe("AwaitSync", func() {
		var h *testHarness

		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("returns the terminal task when it finishes in time", func() {
			h.start()
			view, err := h.server.AwaitSync(ctx, types.OperationSearchUser, searchParams("fast"), 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(types.TaskStatusSuccess))
			Expect(view.Result).NotTo(BeEmpty())
		})

		It("times out but leaves the task running", func() {
			h.driver.scrapeFunc = func(ctx context.Context, _ json.RawMessage, _ types.OperationType, _ types.Parameters) (*scraper.Result, error) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return &scraper.Result{Users: []scraper.Profile{{Username: "slow"}}}, nil
			}
			h.start()

			view, err := h.server.AwaitSync(ctx, types.OperationSearchUser, searchParams("slow"), 50*time.Millisecond)
			Expect(err).To(MatchError(jobserver.ErrAwaitTimeout))
			Expect(view.TaskID).NotTo(BeEmpty())

			Eventually(func() types.TaskStatus {
				current, _ := h.server.Status(ctx, view.TaskID)
				return current.Status
			}, 3*time.Second, 20*time.Millisecond).Should(Equal(types.TaskStatusSuccess))
		})
	})

	Describe("failure taxonomy", func() {
		var h *testHarness

		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("records a rate-limited scrape as a classified failure", func() {
			h.driver.scrapeFunc = func(context.Context, json.RawMessage, types.OperationType, types.Parameters) (*scraper.Result, error) {
				return nil, scraper.ErrUpstreamRateLimited
			}
			h.start()

			view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("throttled"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() types.TaskStatus {
				current, _ := h.server.Status(ctx, view.TaskID)
				return current.Status
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(types.TaskStatusFailure))

			final, _ := h.server.Status(ctx, view.TaskID)
			Expect(jobserver.ErrorKind(final.ErrorMessage)).To(Equal(jobserver.KindRateLimited))
		})

		It("fails with an authentication error when every login attempt is rejected", func() {
			h.driver.loginFunc = func(context.Context, string, string) (json.RawMessage, error) {
				return nil, scraper.ErrAuthenticationFailure
			}
			h.start()

			view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("locked out"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() types.TaskStatus {
				current, _ := h.server.Status(ctx, view.TaskID)
				return current.Status
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(types.TaskStatusFailure))

			final, _ := h.server.Status(ctx, view.TaskID)
			Expect(jobserver.ErrorKind(final.ErrorMessage)).To(Equal(jobserver.KindAuthentication))

			views, err := h.vault.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(HaveLen(1))
			Expect(views[0].LoginFailureCount).To(BeNumerically(">=", 1))
		})

		It("re-authenticates once when an existing session is rejected", func() {
			var calls int
			var mu sync.Mutex
			h.driver.scrapeFunc = func(context.Context, json.RawMessage, types.OperationType, types.Parameters) (*scraper.Result, error) {
				mu.Lock()
				calls++
				first := calls == 1
				mu.Unlock()
				if first {
					return nil, scraper.ErrAuthenticationFailure
				}
				return &scraper.Result{Users: []scraper.Profile{{Username: "back"}}}, nil
			}
			h.start()

			view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("stale session"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() types.TaskStatus {
				current, _ := h.server.Status(ctx, view.TaskID)
				return current.Status
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(types.TaskStatusSuccess))
			Expect(h.driver.logins()).To(BeNumerically(">=", 2))
		})
	})

	Describe("lease recovery", func() {
		It("fails over an orphaned task once its lease expires", func() {
			h := newHarness(config.JobConfiguration{
				"lease_timeout_seconds": 150 * time.Millisecond,
			})
			blocked := make(chan struct{})
			h.driver.scrapeFunc = func(ctx context.Context, _ json.RawMessage, _ types.OperationType, _ types.Parameters) (*scraper.Result, error) {
				select {
				case <-blocked:
				case <-ctx.Done():
				}
				return nil, context.Canceled
			}
			h.start()
			DeferCleanup(func() { close(blocked) })

			view, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("wedged"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				current, _ := h.server.Status(ctx, view.TaskID)
				if current.Status != types.TaskStatusFailure {
					return ""
				}
				return current.ErrorMessage
			}, 3*time.Second, 20*time.Millisecond).Should(ContainSubstring("orphaned task"))
		})
	})

	Describe("queue saturation", func() {
		It("fails a submission the queue cannot absorb", func() {
			h := newHarness(config.JobConfiguration{
				"max_jobs":   1,
				"queue_size": 1,
			})
			blocked := make(chan struct{})
			h.driver.scrapeFunc = func(ctx context.Context, _ json.RawMessage, _ types.OperationType, _ types.Parameters) (*scraper.Result, error) {
				select {
				case <-blocked:
				case <-ctx.Done():
				}
				return &scraper.Result{}, nil
			}
			h.start()
			DeferCleanup(func() { close(blocked) })

			// Occupy the only worker, then fill the single queue slot.
			_, err := h.server.Submit(ctx, types.OperationSearchUser, searchParams("one"))
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.driver.scrapes, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))

			_, err = h.server.Submit(ctx, types.OperationSearchUser, searchParams("two"))
			Expect(err).NotTo(HaveOccurred())

			_, err = h.server.Submit(ctx, types.OperationSearchUser, searchParams("three"))
			Expect(err).To(MatchError(jobserver.ErrQueueFull))
		})
	})
})
