package e2e_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qent/sona-sub000/citest/testutil"
	"github.com/qent/sona-sub000/pkg/types"
)

var _ = Describe("Events", func() {
	var sse *testutil.SSEClient

	BeforeEach(func() {
		Expect(client.NewChat(ctx)).To(Succeed())
		sse = testServer.SSEClient()
	})

	AfterEach(func() {
		sse.Close()
	})

	It("relays bus events with sequence numbers", func() {
		Expect(sse.Connect(ctx, "/event")).To(Succeed())
		_, err := sse.WaitForEvent("connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())

		_, err = client.Send(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())

		var (
			chatID string
			seqs   = map[uint64]bool{}
		)
		_, err = sse.WaitFor(func(e testutil.SSEEvent) bool {
			b, err := e.Bus()
			if err != nil {
				return false
			}
			switch e.Type {
			case "chat.created":
				var data struct {
					ChatID string `json:"chatID"`
				}
				Expect(json.Unmarshal(b.Data, &data)).To(Succeed())
				chatID = data.ChatID
			case "message.persisted":
				seqs[b.Seq] = true
			}
			return chatID != "" && len(seqs) == 2
		}, 10*time.Second)
		Expect(err).NotTo(HaveOccurred())

		cs, err := client.Session(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.ChatID).To(Equal(chatID))

		Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())
	})

	It("streams session snapshots that keep the flag invariants", func() {
		Expect(sse.Connect(ctx, "/session/event")).To(Succeed())

		first, err := sse.WaitForEvent("session", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		cs, err := first.Session()
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.Messages).To(BeEmpty())

		_, err = client.Send(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())

		var sawStreaming bool
		final, err := sse.WaitFor(func(e testutil.SSEEvent) bool {
			cs, err := e.Session()
			if err != nil {
				return false
			}
			Expect(cs.Validate()).To(Succeed())
			if cs.IsStreaming {
				sawStreaming = true
			}
			return len(cs.Messages) == 2 && !cs.RequestInProgress && cs.Messages[1].ID != ""
		}, 10*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(sawStreaming).To(BeTrue())

		cs, err = final.Session()
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.Messages[1].Role).To(Equal(types.RoleAssistant))
	})
})
