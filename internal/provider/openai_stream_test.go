package provider_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qent/sona-sub000/internal/provider"
	"github.com/qent/sona-sub000/pkg/types"
)

type echoTools struct {
	mu    sync.Mutex
	calls []types.ToolCall
}

func (e *echoTools) EinoTools() []*schema.ToolInfo {
	return []*schema.ToolInfo{{
		Name: "sum",
		Desc: "Adds numbers",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"numbers": {Type: schema.Array, ElemInfo: &schema.ParameterInfo{Type: schema.Number}, Required: true},
		}),
	}}
}

func (e *echoTools) Execute(ctx context.Context, call types.ToolCall) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	return "6"
}

type outcome struct {
	partials []string
	executed []string
	resp     *provider.Response
	err      error
}

func streamOnce(s *provider.EinoStreamer, history []types.TurnMessage, tools provider.Tools) outcome {
	var (
		mu  sync.Mutex
		out outcome
	)
	done := make(chan struct{})
	h := s.Stream(history, tools, provider.Callbacks{
		OnPartial: func(text string) {
			mu.Lock()
			out.partials = append(out.partials, text)
			mu.Unlock()
		},
		OnToolExecuted: func(call types.ToolCall, result string) {
			mu.Lock()
			out.executed = append(out.executed, call.Name+":"+result)
			mu.Unlock()
		},
		OnComplete: func(resp provider.Response) {
			mu.Lock()
			out.resp = &resp
			mu.Unlock()
			close(done)
		},
		OnError: func(err error) {
			mu.Lock()
			out.err = err
			mu.Unlock()
			close(done)
		},
	})
	h.Start(context.Background())
	Eventually(done, 10*time.Second).Should(BeClosed())

	mu.Lock()
	defer mu.Unlock()
	return out
}

var _ = Describe("OpenAIProvider streaming against a mock server", func() {
	var (
		ctx    context.Context
		server *mockLLMServer
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	newStreamer := func() *provider.EinoStreamer {
		p, err := provider.NewOpenAIProvider(ctx, &provider.OpenAIConfig{
			APIKey:  "mock-api-key",
			BaseURL: server.URL(),
			Model:   "mock-gpt",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.ID()).To(Equal("openai"))
		return provider.NewEinoStreamer(p.ChatModel(), provider.StreamerConfig{
			SystemPrompt: func() string { return "You are a test assistant." },
		})
	}

	It("streams a plain answer word by word", func() {
		server = newMockLLMServer(mockReply{Content: "Hello from the mock model"})
		out := streamOnce(newStreamer(), []types.TurnMessage{{Role: types.RoleUser, Content: "hello"}}, nil)

		Expect(out.err).NotTo(HaveOccurred())
		Expect(out.resp).NotTo(BeNil())
		Expect(out.resp.Content).To(Equal("Hello from the mock model"))
		Expect(strings.Join(out.partials, "")).To(Equal(out.resp.Content))
		Expect(len(out.partials)).To(BeNumerically(">", 1))

		reqs := server.Requests()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0]["stream"]).To(BeTrue())
		messages := reqs[0]["messages"].([]any)
		Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
	})

	It("runs the tool loop and sends the result back", func() {
		server = newMockLLMServer(
			mockReply{ToolCalls: []mockToolCall{{ID: "call_sum", Name: "sum", Arguments: `{"numbers":[1,2,3]}`}}},
			mockReply{Content: "The total is 6."},
		)
		tools := &echoTools{}
		out := streamOnce(newStreamer(), []types.TurnMessage{{Role: types.RoleUser, Content: "add 1 2 3"}}, tools)

		Expect(out.err).NotTo(HaveOccurred())
		Expect(out.resp.Content).To(Equal("The total is 6."))
		Expect(out.resp.Steps).To(Equal(2))
		Expect(out.executed).To(Equal([]string{"sum:6"}))
		Expect(tools.calls).To(HaveLen(1))
		Expect(tools.calls[0].ID).To(Equal("call_sum"))

		reqs := server.Requests()
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[0]["tools"]).To(HaveLen(1))
		second := reqs[1]["messages"].([]any)
		last := second[len(second)-1].(map[string]any)
		Expect(last["role"]).To(Equal("tool"))
		Expect(last["tool_call_id"]).To(Equal("call_sum"))
		Expect(last["content"]).To(Equal("6"))
	})

	It("reports server failures through OnError", func() {
		server = newMockLLMServer(mockReply{Status: 500})
		out := streamOnce(newStreamer(), []types.TurnMessage{{Role: types.RoleUser, Content: "hello"}}, nil)

		Expect(out.resp).To(BeNil())
		Expect(out.err).To(HaveOccurred())
	})
})
