package stream_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/killallgit/tokenstream/pkg/stream"
	"github.com/killallgit/tokenstream/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func sseRecord(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func ndjsonRecord(content string, done bool) string {
	return fmt.Sprintf("{\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":%t}\n", content, done)
}

func request(format stream.Format) stream.Request {
	return stream.NewRequest("test-model", format, []chat.Message{chat.NewUserMessage("hello")})
}

func runChunks(format stream.Format, chunks [][]byte, opts ...stream.Option) (*stream.Collector, stream.State, error) {
	var flag stream.InFlight
	collector := stream.NewCollector()
	opener := &testutil.StaticOpener{Body: testutil.NewChunkedBody(chunks...)}
	state, err := stream.Run(context.Background(), &flag, opener, request(format), collector, opts...)
	Expect(flag.Active()).To(BeFalse())
	return collector, state, err
}

var _ = Describe("Session", func() {
	var (
		flag      *stream.InFlight
		collector *stream.Collector
		ctx       context.Context
	)

	BeforeEach(func() {
		flag = &stream.InFlight{}
		collector = stream.NewCollector()
		ctx = context.Background()
	})

	Describe("SSE multi-chunk split", func() {
		It("should reassemble a record split inside the JSON payload", func() {
			collector, state, err := runChunks(stream.FormatSSE, [][]byte{
				[]byte(`data: {"choices":[{"delta":{"content":"Hel`),
				[]byte("lo\"}}]}\n\ndata: [DONE]\n\n"),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Calls()).To(Equal([]stream.Call{
				{Kind: stream.CallToken, Text: "Hello"},
				{Kind: stream.CallComplete},
			}))
		})
	})

	Describe("NDJSON combined token and done", func() {
		It("should deliver the token before completing", func() {
			collector, state, err := runChunks(stream.FormatNDJSON, [][]byte{
				[]byte(`{"message":{"content":"!"},"done":true}` + "\n"),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Calls()).To(Equal([]stream.Call{
				{Kind: stream.CallToken, Text: "!"},
				{Kind: stream.CallComplete},
			}))
		})
	})

	Describe("cancellation mid-stream", func() {
		It("should stop tokens and complete exactly once", func() {
			body := testutil.NewPipeBody()
			opener := &testutil.StaticOpener{Body: body}

			session, err := stream.Start(ctx, flag, opener, request(stream.FormatNDJSON), collector)
			Expect(err).NotTo(HaveOccurred())
			Expect(flag.Active()).To(BeTrue())

			Expect(body.Write(ndjsonRecord("ab", false))).To(Succeed())
			Eventually(collector.Tokens).Should(Equal([]string{"ab"}))

			session.Cancel()
			Eventually(session.Done()).Should(BeClosed())

			// The body is closed, so the rest of the stream can no longer be delivered
			Expect(body.Write(ndjsonRecord("cdef", true))).NotTo(Succeed())

			Expect(session.State()).To(Equal(stream.StateAborted))
			Expect(session.Err()).To(BeNil())
			Expect(collector.Tokens()).To(Equal([]string{"ab"}))
			Expect(collector.Completions()).To(Equal(1))
			Expect(collector.Errors()).To(BeEmpty())
			Expect(flag.Active()).To(BeFalse())
		})

		It("should be idempotent", func() {
			body := testutil.NewPipeBody()
			session, err := stream.Start(ctx, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatSSE), collector)
			Expect(err).NotTo(HaveOccurred())

			session.Cancel()
			session.Cancel()
			Expect(session.Wait()).To(Equal(stream.StateAborted))
			session.Cancel()

			Consistently(collector.Completions, 50*time.Millisecond).Should(Equal(1))
			Expect(collector.Errors()).To(BeEmpty())
		})

		It("should be a no-op on a completed session", func() {
			opener := &testutil.StaticOpener{Body: testutil.NewChunkedStringBody(sseRecord("x"), "data: [DONE]\n\n")}
			session, err := stream.Start(ctx, flag, opener, request(stream.FormatSSE), collector)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Wait()).To(Equal(stream.StateCompleted))

			session.Cancel()
			Expect(session.State()).To(Equal(stream.StateCompleted))
			Expect(collector.Completions()).To(Equal(1))
		})

		It("should abort while the request is still connecting", func() {
			opener := testutil.NewBlockingOpener()
			session, err := stream.Start(ctx, flag, opener, request(stream.FormatSSE), collector)
			Expect(err).NotTo(HaveOccurred())

			Eventually(opener.Entered).Should(BeClosed())
			session.Cancel()

			Expect(session.Wait()).To(Equal(stream.StateAborted))
			Expect(collector.Completions()).To(Equal(1))
			Expect(collector.Errors()).To(BeEmpty())
			Expect(flag.Active()).To(BeFalse())
		})

		It("should accept a cancel from inside OnToken and deliver nothing after it", func() {
			var session *stream.Session
			var tokens []string
			handler := stream.HandlerFuncs{
				TokenFunc: func(text string) {
					tokens = append(tokens, text)
					session.Cancel()
				},
			}
			body := testutil.NewPipeBody()
			var err error
			session, err = stream.Start(ctx, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatNDJSON), handler)
			Expect(err).NotTo(HaveOccurred())

			// The pipe stops accepting data once the cancel closes the body
			_ = body.Write(ndjsonRecord("a", false) + ndjsonRecord("b", false) + ndjsonRecord("c", true))

			Eventually(session.Done()).Should(BeClosed())
			Expect(session.State()).To(Equal(stream.StateAborted))
			Expect(tokens).To(Equal([]string{"a"}))
		})

		It("should start no token after Cancel returns", func() {
			var records strings.Builder
			for i := 0; i < 200; i++ {
				records.WriteString(ndjsonRecord("t", false))
			}

			for i := 0; i < 200; i++ {
				var cancelled, late atomic.Bool
				first := make(chan struct{})
				var once sync.Once
				handler := stream.HandlerFuncs{
					TokenFunc: func(string) {
						if cancelled.Load() {
							late.Store(true)
						}
						once.Do(func() { close(first) })
					},
				}
				opener := &testutil.StaticOpener{Body: testutil.NewChunkedStringBody(records.String())}

				session, err := stream.Start(ctx, &stream.InFlight{}, opener, request(stream.FormatNDJSON), handler)
				Expect(err).NotTo(HaveOccurred())
				<-first
				session.Cancel()
				cancelled.Store(true)

				session.Wait()
				Expect(late.Load()).To(BeFalse(), "iteration %d", i)
			}
		})

		It("should treat a cancelled parent context as cancellation", func() {
			parent, cancel := context.WithCancel(ctx)
			body := testutil.NewPipeBody()
			session, err := stream.Start(parent, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatNDJSON), collector)
			Expect(err).NotTo(HaveOccurred())

			Expect(body.Write(ndjsonRecord("partial", false))).To(Succeed())
			Eventually(collector.Tokens).Should(HaveLen(1))
			cancel()

			Expect(session.Wait()).To(Equal(stream.StateAborted))
			Expect(collector.Completions()).To(Equal(1))
			Expect(collector.Errors()).To(BeEmpty())
		})
	})

	Describe("failures", func() {
		It("should report an open error once and never complete", func() {
			opener := &testutil.StaticOpener{Err: errors.New("model not found")}
			state, err := stream.Run(ctx, flag, opener, request(stream.FormatSSE), collector)

			Expect(state).To(Equal(stream.StateFailed))
			Expect(err).To(MatchError("model not found"))
			Expect(collector.Errors()).To(HaveLen(1))
			Expect(collector.Errors()[0]).To(MatchError("model not found"))
			Expect(collector.Tokens()).To(BeEmpty())
			Expect(collector.Completions()).To(Equal(0))
			Expect(flag.Active()).To(BeFalse())
		})

		It("should fail on a mid-stream read error after delivering earlier tokens", func() {
			body := testutil.NewChunkedStringBody(ndjsonRecord("one", false)).FailAfter(errors.New("connection reset by peer"))
			state, err := stream.Run(ctx, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatNDJSON), collector)

			Expect(state).To(Equal(stream.StateFailed))
			Expect(err).To(MatchError(ContainSubstring("connection reset by peer")))
			Expect(collector.Tokens()).To(Equal([]string{"one"}))
			Expect(collector.Errors()).To(HaveLen(1))
			Expect(collector.Completions()).To(Equal(0))
			Expect(body.Closed()).To(BeTrue())
		})

		It("should fail when the transport returns no body", func() {
			state, err := stream.Run(ctx, flag, &testutil.StaticOpener{}, request(stream.FormatSSE), collector)

			Expect(state).To(Equal(stream.StateFailed))
			Expect(err).To(MatchError(stream.ErrNoBody))
			Expect(collector.Errors()).To(HaveLen(1))
		})

		It("should fail when a line exceeds the limit", func() {
			body := testutil.NewChunkedStringBody(ndjsonRecord("ok", false), strings.Repeat("x", 64))
			state, err := stream.Run(ctx, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatNDJSON), collector,
				stream.WithMaxLineBytes(32))

			Expect(state).To(Equal(stream.StateFailed))
			Expect(errors.Is(err, stream.ErrLineTooLong)).To(BeTrue())
			Expect(collector.Tokens()).To(Equal([]string{"ok"}))
		})
	})

	Describe("single in-flight session", func() {
		It("should reject a second start without disturbing the first", func() {
			body := testutil.NewPipeBody()
			first, err := stream.Start(ctx, flag, &testutil.StaticOpener{Body: body}, request(stream.FormatNDJSON), collector)
			Expect(err).NotTo(HaveOccurred())

			other := stream.NewCollector()
			second, err := stream.Start(ctx, flag, &testutil.StaticOpener{Body: testutil.NewChunkedStringBody()}, request(stream.FormatNDJSON), other)
			Expect(err).To(MatchError(stream.ErrSessionActive))
			Expect(second).To(BeNil())
			Expect(flag.Active()).To(BeTrue())
			Expect(first.State()).To(Equal(stream.StateActive))

			Expect(body.Write(ndjsonRecord("still here", false))).To(Succeed())
			Expect(body.Finish()).To(Succeed())
			Expect(first.Wait()).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"still here"}))
			Expect(other.Calls()).To(BeEmpty())
			Expect(flag.Active()).To(BeFalse())
		})

		It("should allow independent flags to stream concurrently", func() {
			a, b := testutil.NewPipeBody(), testutil.NewPipeBody()
			var flagA, flagB stream.InFlight
			sa, err := stream.Start(ctx, &flagA, &testutil.StaticOpener{Body: a}, request(stream.FormatNDJSON), stream.NewCollector())
			Expect(err).NotTo(HaveOccurred())
			sb, err := stream.Start(ctx, &flagB, &testutil.StaticOpener{Body: b}, request(stream.FormatNDJSON), stream.NewCollector())
			Expect(err).NotTo(HaveOccurred())

			sa.Cancel()
			sb.Cancel()
			Expect(sa.Wait()).To(Equal(stream.StateAborted))
			Expect(sb.Wait()).To(Equal(stream.StateAborted))
		})

		It("should leave the flag untouched for an invalid request", func() {
			bad := stream.NewRequest("", stream.FormatSSE, []chat.Message{chat.NewUserMessage("hi")})
			_, err := stream.Start(ctx, flag, &testutil.StaticOpener{}, bad, collector)
			Expect(err).To(HaveOccurred())
			Expect(flag.Active()).To(BeFalse())
		})

		It("should clear the flag before the terminal callback runs", func() {
			var activeDuringComplete bool
			handler := stream.HandlerFuncs{CompleteFunc: func() { activeDuringComplete = flag.Active() }}
			opener := &testutil.StaticOpener{Body: testutil.NewChunkedStringBody("data: [DONE]\n\n")}

			_, err := stream.Run(ctx, flag, opener, request(stream.FormatSSE), handler)
			Expect(err).NotTo(HaveOccurred())
			Expect(activeDuringComplete).To(BeFalse())
		})
	})

	Describe("panics", func() {
		It("should fail the session and release the flag when OnToken panics", func() {
			var captured error
			handler := stream.HandlerFuncs{
				TokenFunc:    func(string) { panic("render failed") },
				CompleteFunc: func() { Fail("OnComplete must not run") },
				ErrorFunc:    func(err error) { captured = err },
			}
			opener := &testutil.StaticOpener{Body: testutil.NewChunkedStringBody(sseRecord("boom"))}

			state, err := stream.Run(ctx, flag, opener, request(stream.FormatSSE), handler)
			Expect(state).To(Equal(stream.StateFailed))

			var perr *stream.PanicError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Value).To(Equal("render failed"))
			Expect(captured).To(Equal(err))
			Expect(flag.Active()).To(BeFalse())
		})

		It("should keep the flag clear when the terminal callback panics", func() {
			handler := stream.HandlerFuncs{CompleteFunc: func() { panic("late") }}
			opener := &testutil.StaticOpener{Body: testutil.NewChunkedStringBody("data: [DONE]\n\n")}

			session, err := stream.Start(ctx, flag, opener, request(stream.FormatSSE), handler)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Wait()).To(Equal(stream.StateCompleted))
			Expect(flag.Active()).To(BeFalse())
		})
	})

	Describe("resilience", func() {
		It("should ignore a malformed line between valid ones", func() {
			clean := sseRecord("a") + sseRecord("b") + "data: [DONE]\n\n"
			dirty := sseRecord("a") + "data: {\"choices\":[{\"delta\n\n" + sseRecord("b") + "data: [DONE]\n\n"

			var diagnostics []string
			withCorruption, state, err := runChunks(stream.FormatSSE, [][]byte{[]byte(dirty)},
				stream.WithDiagnostics(func(raw string) { diagnostics = append(diagnostics, raw) }))
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))

			reference, _, _ := runChunks(stream.FormatSSE, [][]byte{[]byte(clean)})
			Expect(withCorruption.Tokens()).To(Equal(reference.Tokens()))
			Expect(diagnostics).To(Equal([]string{`data: {"choices":[{"delta`}))
		})

		It("should surface in-band backend errors to diagnostics without failing", func() {
			var diagnostics []string
			body := ndjsonRecord("x", false) + `{"error":"GPU out of memory"}` + "\n" + ndjsonRecord("", true)
			collector, state, err := runChunks(stream.FormatNDJSON, [][]byte{[]byte(body)},
				stream.WithDiagnostics(func(raw string) { diagnostics = append(diagnostics, raw) }))

			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"x"}))
			Expect(diagnostics).To(Equal([]string{"GPU out of memory"}))
		})

		It("should complete on exhaustion without a done marker", func() {
			collector, state, err := runChunks(stream.FormatNDJSON, [][]byte{
				[]byte(ndjsonRecord("one", false)),
				[]byte(`{"message":{"content":"two"},"done":false}`),
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"one", "two"}))
			Expect(collector.Completions()).To(Equal(1))
		})

		It("should not dispatch anything after the done marker", func() {
			collector, state, _ := runChunks(stream.FormatSSE, [][]byte{
				[]byte(sseRecord("kept") + "data: [DONE]\n\n" + sseRecord("dropped")),
			})

			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"kept"}))
			Expect(collector.Completions()).To(Equal(1))
		})

		It("should substitute a truncated multibyte tail at the end of the body", func() {
			collector, state, _ := runChunks(stream.FormatNDJSON, [][]byte{
				[]byte(ndjsonRecord("ok", false)),
				{0xE2, 0x82},
			})

			Expect(state).To(Equal(stream.StateCompleted))
			Expect(collector.Tokens()).To(Equal([]string{"ok"}))
		})
	})

	Describe("fragmentation", func() {
		sseBody := []byte(sseRecord("Hé") + ": ping\n\n" + sseRecord("llo 🙂") + "data: [DONE]\n\n")
		ndjsonBody := []byte(ndjsonRecord("wö", false) + "\r\n" + ndjsonRecord("rld", false) + ndjsonRecord("!", true))

		DescribeTable("should produce the same tokens however the body is split",
			func(format stream.Format, body []byte) {
				reference, state, err := runChunks(format, [][]byte{body})
				Expect(err).NotTo(HaveOccurred())
				Expect(state).To(Equal(stream.StateCompleted))
				Expect(reference.Tokens()).NotTo(BeEmpty())

				check := func(chunks [][]byte) {
					got, state, err := runChunks(format, chunks)
					Expect(err).NotTo(HaveOccurred())
					Expect(state).To(Equal(stream.StateCompleted))
					Expect(got.Tokens()).To(Equal(reference.Tokens()), "chunks: %q", chunks)
					Expect(got.Completions()).To(Equal(1))
				}

				check(testutil.Bytewise(body))
				for _, chunks := range testutil.EveryTwoWaySplit(body) {
					check(chunks)
				}
				for _, chunks := range testutil.EveryThreeWaySplit(body) {
					check(chunks)
				}
			},
			Entry("SSE", stream.FormatSSE, sseBody),
			Entry("NDJSON", stream.FormatNDJSON, ndjsonBody),
		)

		It("should survive reads smaller than a multibyte rune", func() {
			collector, _, err := runChunks(stream.FormatSSE, [][]byte{sseBody}, stream.WithReadBufferSize(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(collector.Text()).To(Equal("Héllo 🙂"))
		})
	})
})
