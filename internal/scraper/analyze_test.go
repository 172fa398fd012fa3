package scraper

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AnalyzeTimeline", func() {
	It("counts hashtags and mentions across tweets", func() {
		tweets := []Tweet{
			{Text: "checking #osint tools with @alice", Hashtags: []string{"osint"}},
			{Text: "more #osint and #golang news from @alice and @bob"},
			{Text: "plain tweet, nothing tagged"},
		}

		hashtags, mentions := AnalyzeTimeline(tweets)

		Expect(hashtags).To(Equal([]TagCount{
			{Tag: "osint", Count: 2},
			{Tag: "golang", Count: 1},
		}))
		Expect(mentions).To(Equal([]TagCount{
			{Tag: "alice", Count: 2},
			{Tag: "bob", Count: 1},
		}))
	})

	It("counts a tag once per tweet regardless of repetition", func() {
		tweets := []Tweet{
			{Text: "#go #go #go @dev @dev"},
		}
		hashtags, mentions := AnalyzeTimeline(tweets)
		Expect(hashtags).To(Equal([]TagCount{{Tag: "go", Count: 1}}))
		Expect(mentions).To(Equal([]TagCount{{Tag: "dev", Count: 1}}))
	})

	It("is case-insensitive", func() {
		tweets := []Tweet{
			{Text: "#OSINT news"},
			{Text: "#osint again"},
		}
		hashtags, _ := AnalyzeTimeline(tweets)
		Expect(hashtags).To(Equal([]TagCount{{Tag: "osint", Count: 2}}))
	})

	It("returns empty analyses for an empty timeline", func() {
		hashtags, mentions := AnalyzeTimeline(nil)
		Expect(hashtags).To(BeEmpty())
		Expect(mentions).To(BeEmpty())
	})
})

var _ = Describe("classify", func() {
	It("detects rate limiting", func() {
		Expect(classify(errors.New("Rate limit exceeded"))).To(Equal(ErrUpstreamRateLimited))
		Expect(classify(errors.New("response status 429 Too Many Requests"))).To(Equal(ErrUpstreamRateLimited))
	})

	It("detects authentication failures", func() {
		Expect(classify(errors.New("login failed: DenyLoginSubtask"))).To(Equal(ErrAuthenticationFailure))
		Expect(classify(errors.New("response status 401 Unauthorized"))).To(Equal(ErrAuthenticationFailure))
	})

	It("detects execution timeouts", func() {
		Expect(classify(fmt.Errorf("scrape: %w", context.DeadlineExceeded))).To(Equal(ErrExecutionTimeout))
	})

	It("leaves unknown errors unclassified", func() {
		Expect(classify(errors.New("connection reset by peer"))).To(BeNil())
		unknown := errors.New("connection reset by peer")
		Expect(classifyWrap(unknown)).To(Equal(unknown))
	})
})
