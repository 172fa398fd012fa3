package cache

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scrapeworks/osint-worker/api/types"
)

var _ = Describe("Fingerprint", func() {
	It("is stable for identical requests", func() {
		p := types.Parameters{Username: "alice", Count: 50}
		Expect(Fingerprint(types.OperationTimeline, p)).
			To(Equal(Fingerprint(types.OperationTimeline, p)))
	})

	It("normalizes username case and whitespace", func() {
		a := Fingerprint(types.OperationFollowers, types.Parameters{Username: "Alice", Limit: 20})
		b := Fingerprint(types.OperationFollowers, types.Parameters{Username: "  alice ", Limit: 20})
		Expect(a).To(Equal(b))
	})

	It("ignores fields the operation does not use", func() {
		a := Fingerprint(types.OperationSearchUser, types.Parameters{Query: "osint", Limit: 20})
		b := Fingerprint(types.OperationSearchUser, types.Parameters{Query: "osint", Limit: 20, Count: 99, Username: "stray"})
		Expect(a).To(Equal(b))
	})

	It("distinguishes operations over the same parameters", func() {
		p := types.Parameters{Username: "alice", Limit: 20}
		Expect(Fingerprint(types.OperationFollowing, p)).
			NotTo(Equal(Fingerprint(types.OperationFollowers, p)))
	})

	It("distinguishes different counts", func() {
		a := Fingerprint(types.OperationTimeline, types.Parameters{Username: "alice", Count: 50})
		b := Fingerprint(types.OperationTimeline, types.Parameters{Username: "alice", Count: 80})
		Expect(a).NotTo(Equal(b))
	})
})
