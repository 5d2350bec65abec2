package e2e_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qent/sona-sub000/citest/testutil"
	"github.com/qent/sona-sub000/pkg/types"
)

var _ = Describe("Conversation", func() {
	BeforeEach(func() {
		Expect(client.NewChat(ctx)).To(Succeed())
	})

	Describe("a plain turn", func() {
		It("streams the reply and persists both messages", func() {
			resp, err := client.Send(ctx, "hello there")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())

			cs, err := client.Session(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.ChatID).NotTo(BeEmpty())
			Expect(testutil.Roles(cs.Messages)).To(Equal([]types.Role{types.RoleUser, types.RoleAssistant}))
			Expect(cs.Messages[1].Content).To(Equal("Hello! How can I help you today?"))
			Expect(cs.Messages[1].ModelName).To(Equal("openai/mock-gpt"))

			chat, err := client.Chat(ctx, cs.ChatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(chat.Messages).To(HaveLen(2))
			Expect(chat.Messages[1].ID).To(Equal(cs.Messages[1].ID))

			chats, err := client.Chats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chats).To(ContainElement(HaveField("ID", cs.ChatID)))
		})

		It("rejects an empty message", func() {
			resp, err := client.Send(ctx, "   ")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("tool calls", func() {
		BeforeEach(func() {
			Expect(testServer.WriteFile("notes.txt", "remember the milk\n")).To(Succeed())
		})

		It("waits for permission, runs the tool and finishes the turn", func() {
			_, err := client.Send(ctx, "read notes.txt")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func(g Gomega) {
				cs, err := client.Session(ctx)
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(cs.PendingToolName).NotTo(BeNil())
				g.Expect(*cs.PendingToolName).To(Equal("read_file"))
				g.Expect(cs.RequestInProgress).To(BeFalse())
			}).WithTimeout(10 * time.Second).Should(Succeed())

			By("refusing a new message while the question is open")
			resp, err := client.Send(ctx, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.ErrorCode()).To(Equal("BUSY"))

			resp, err = client.ResolvePermission(ctx, true, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())

			cs, err := client.Session(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.PendingToolName).To(BeNil())
			Expect(testutil.Roles(cs.Messages)).To(Equal([]types.Role{
				types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant,
			}))
			Expect(cs.Messages[1].ToolCalls).To(HaveLen(1))
			Expect(cs.Messages[2].Content).To(ContainSubstring("remember the milk"))
			Expect(cs.Messages[3].Content).To(HavePrefix("Read:"))

			chat, err := client.Chat(ctx, cs.ChatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.Roles(chat.Messages)).To(Equal(testutil.Roles(cs.Messages)))
		})

		It("records a denied call as cancelled", func() {
			_, err := client.Send(ctx, "read notes.txt")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func(g Gomega) {
				cs, err := client.Session(ctx)
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(cs.PendingToolName).NotTo(BeNil())
			}).WithTimeout(10 * time.Second).Should(Succeed())

			_, err = client.ResolvePermission(ctx, false, false)
			Expect(err).NotTo(HaveOccurred())

			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())
			cs, err := client.Session(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cs.Messages[2].Role).To(Equal(types.RoleTool))
			Expect(cs.Messages[2].Content).NotTo(ContainSubstring("remember the milk"))
		})

		It("reports no pending request", func() {
			resp, err := client.ResolvePermission(ctx, true, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.ErrorCode()).To(Equal("NO_PENDING_REQUEST"))
		})
	})

	Describe("retries", func() {
		It("recovers from a failed model request", func() {
			before := len(testServer.LLM.Requests())

			_, err := client.Send(ctx, "a flaky question")
			Expect(err).NotTo(HaveOccurred())

			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())

			cs, err := client.Session(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.Roles(cs.Messages)).To(Equal([]types.Role{types.RoleUser, types.RoleAssistant}))
			Expect(cs.Messages[1].Content).To(Equal("Recovered answer."))
			Expect(len(testServer.LLM.Requests()) - before).To(Equal(2))
		})
	})

	Describe("editing history", func() {
		It("deletes from an index and continues the chat", func() {
			_, err := client.Send(ctx, "hello")
			Expect(err).NotTo(HaveOccurred())
			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())

			resp, err := client.Post(ctx, "/session/delete-from/1", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			cs, err := client.Session(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.Roles(cs.Messages)).To(Equal([]types.Role{types.RoleUser}))

			_, err = client.Send(ctx, "something else")
			Expect(err).NotTo(HaveOccurred())
			Eventually(idle()).WithTimeout(10 * time.Second).Should(Succeed())

			chat, err := client.Chat(ctx, cs.ChatID)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.Roles(chat.Messages)).To(Equal([]types.Role{
				types.RoleUser, types.RoleUser, types.RoleAssistant,
			}))
		})
	})
})
