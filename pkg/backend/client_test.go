package backend_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/killallgit/tokenstream/pkg/backend"
	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/killallgit/tokenstream/pkg/stream"
	"github.com/killallgit/tokenstream/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
)

func newRequest(format stream.Format) stream.Request {
	return stream.NewRequest("qwen3:latest", format, []chat.Message{
		chat.NewSystemMessage("be brief"),
		chat.NewUserMessage("hello"),
	})
}

var _ = Describe("Client", func() {
	var (
		server *testutil.StreamServer
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("Endpoint", func() {
		It("should pick the path from the format", func() {
			client := backend.NewClient("http://localhost:11434/", time.Second)
			Expect(client.Endpoint(stream.FormatNDJSON)).To(Equal("http://localhost:11434/api/chat"))
			Expect(client.Endpoint(stream.FormatSSE)).To(Equal("http://localhost:11434/v1/chat/completions"))
		})

		It("should honour an explicit path", func() {
			client := backend.NewClient("http://gateway", time.Second, backend.WithPath("proxy/chat"))
			Expect(client.Endpoint(stream.FormatSSE)).To(Equal("http://gateway/proxy/chat"))
		})
	})

	Describe("Open", func() {
		It("should stream an NDJSON response end to end", func() {
			server = testutil.NewStreamServer(http.StatusOK,
				`{"message":{"role":"assistant","content":"Hel`,
				`lo"},"done":false}`+"\n",
				`{"message":{"role":"assistant","content":""},"done":true}`+"\n",
			)
			client := backend.NewClient(server.URL, time.Second)
			collector := stream.NewCollector()
			var flag stream.InFlight

			state, err := stream.Run(ctx, &flag, client, newRequest(stream.FormatNDJSON), collector)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"Hello"}))

			Expect(server.Paths()).To(Equal([]string{backend.NDJSONPath}))
			Expect(server.Accepts()).To(Equal([]string{"application/x-ndjson"}))
			body := string(server.Bodies()[0])
			Expect(gjson.Get(body, "model").String()).To(Equal("qwen3:latest"))
			Expect(gjson.Get(body, "stream").Bool()).To(BeTrue())
			Expect(gjson.Get(body, "messages.#").Int()).To(Equal(int64(2)))
			Expect(gjson.Get(body, "messages.1.content").String()).To(Equal("hello"))
		})

		It("should stream an SSE response end to end", func() {
			server = testutil.NewStreamServer(http.StatusOK,
				`data: {"choices":[{"delta":{"content":"Hel`,
				"lo\"}}]}\n\ndata: [DONE]\n\n",
			)
			client := backend.NewClient(server.URL, time.Second)
			collector := stream.NewCollector()
			var flag stream.InFlight

			state, err := stream.Run(ctx, &flag, client, newRequest(stream.FormatSSE), collector)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Calls()).To(Equal([]stream.Call{
				{Kind: stream.CallToken, Text: "Hello"},
				{Kind: stream.CallComplete},
			}))
			Expect(server.Paths()).To(Equal([]string{backend.SSEPath}))
			Expect(server.Accepts()).To(Equal([]string{"text/event-stream"}))
		})

		It("should surface a non-2xx body as the error detail", func() {
			server = testutil.NewStreamServer(http.StatusInternalServerError, "model not found")
			client := backend.NewClient(server.URL, time.Second)
			collector := stream.NewCollector()
			var flag stream.InFlight

			state, err := stream.Run(ctx, &flag, client, newRequest(stream.FormatSSE), collector)
			Expect(state).To(Equal(stream.StateFailed))
			Expect(err).To(MatchError("model not found"))

			var statusErr *backend.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusInternalServerError))

			Expect(collector.Tokens()).To(BeEmpty())
			Expect(collector.Completions()).To(Equal(0))
			Expect(collector.Errors()).To(HaveLen(1))
			Expect(flag.Active()).To(BeFalse())
		})

		It("should extract the reason from a JSON error body", func() {
			server = testutil.NewStreamServer(http.StatusNotFound, `{"error":"model 'llama9' not found, try pulling it first"}`)
			client := backend.NewClient(server.URL, time.Second)

			_, err := client.Open(ctx, newRequest(stream.FormatNDJSON))
			Expect(err).To(MatchError("model 'llama9' not found, try pulling it first"))
		})

		It("should abort a held stream when cancelled", func() {
			server = testutil.NewStreamServer(http.StatusOK, `{"message":{"content":"ab"},"done":false}`+"\n").Hold()
			client := backend.NewClient(server.URL, time.Second)
			collector := stream.NewCollector()
			var flag stream.InFlight

			session, err := stream.Start(ctx, &flag, client, newRequest(stream.FormatNDJSON), collector)
			Expect(err).NotTo(HaveOccurred())
			Eventually(collector.Tokens).Should(Equal([]string{"ab"}))

			session.Cancel()
			Eventually(session.Done(), 2*time.Second).Should(BeClosed())
			Expect(session.State()).To(Equal(stream.StateAborted))
			Expect(collector.Completions()).To(Equal(1))
			Expect(collector.Errors()).To(BeEmpty())
		})

		It("should fail when the server is unreachable", func() {
			server = testutil.NewStreamServer(http.StatusOK)
			url := server.URL
			server.Close()
			server = nil

			client := backend.NewClient(url, 500*time.Millisecond)
			collector := stream.NewCollector()
			var flag stream.InFlight

			state, err := stream.Run(ctx, &flag, client, newRequest(stream.FormatNDJSON), collector)
			Expect(state).To(Equal(stream.StateFailed))
			Expect(err).To(MatchError(ContainSubstring("request failed")))
			Expect(collector.Errors()).To(HaveLen(1))
		})
	})
})
