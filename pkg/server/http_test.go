package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/voicebox/pkg/server"
	"github.com/kralicky/voicebox/pkg/supervisor"
	"github.com/kralicky/voicebox/pkg/tasks"
)

// readFrames returns the data of each server-sent event in body.
type sseFrame struct {
	Event string
	Data  string
}

func readSSE(body io.Reader) []sseFrame {
	var frames []sseFrame
	var cur sseFrame
	var data []string
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data != nil {
				cur.Data = strings.Join(data, "\n")
				frames = append(frames, cur)
			}
			cur, data = sseFrame{}, nil
			continue
		}
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			cur.Event = name
			continue
		}
		d, ok := strings.CutPrefix(line, "data: ")
		Expect(ok).To(BeTrue(), "unexpected line %q", line)
		data = append(data, d)
	}
	return frames
}

func readFrames(body io.Reader) []string {
	var out []string
	for _, f := range readSSE(body) {
		out = append(out, f.Data)
	}
	return out
}

var _ = Describe("HTTP API", func() {
	var env *testEnv
	var srv *httptest.Server

	BeforeEach(func() {
		env = newTestEnv()
		srv = httptest.NewServer(server.NewHTTPHandler(env.Tasks, server.HTTPOptions{}))
		DeferCleanup(srv.Close)
	})

	post := func(path, body string) (*http.Response, map[string]any) {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var out map[string]any
		if resp.ContentLength != 0 && resp.Header.Get("Content-Type") == "application/json" {
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		}
		return resp, out
	}

	It("should start a task and serve its audio", func() {
		resp, body := post("/api/tasks/echo/start", `{"text": "hello"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("status", "started"))
		artifact, _ := body["artifact"].(string)
		Expect(artifact).To(HavePrefix("echo_"))

		logs, err := http.Get(srv.URL + "/api/tasks/echo/logs")
		Expect(err).NotTo(HaveOccurred())
		defer logs.Body.Close()
		Expect(logs.Header.Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(readFrames(logs.Body)).To(Equal([]string{"hello", artifact, supervisor.DefaultCompletedText}))

		audio, err := http.Get(srv.URL + "/audio/" + artifact)
		Expect(err).NotTo(HaveOccurred())
		defer audio.Body.Close()
		Expect(audio.StatusCode).To(Equal(http.StatusOK))
		Expect(audio.Header.Get("Content-Type")).To(Equal("audio/wav"))
		Expect(io.ReadAll(audio.Body)).To(BeEquivalentTo("RIFF"))
	})

	It("should report status", func() {
		resp, err := http.Get(srv.URL + "/api/tasks/sleep")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var st tasks.Status
		Expect(json.NewDecoder(resp.Body).Decode(&st)).To(Succeed())
		Expect(st.Category).To(Equal(catSleep))
		Expect(st.State).To(Equal(tasks.Idle))

		list, err := http.Get(srv.URL + "/api/tasks")
		Expect(err).NotTo(HaveOccurred())
		defer list.Body.Close()
		var all []tasks.Status
		Expect(json.NewDecoder(list.Body).Decode(&all)).To(Succeed())
		Expect(all).To(HaveLen(4))
	})

	It("should stop a running task", func() {
		resp, _ := post("/api/tasks/sleep/start", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp, _ = post("/api/tasks/sleep/start", "")
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))

		resp, body := post("/api/tasks/sleep/stop", `{"grace_ms": 1000}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("outcome", "stopped"))

		resp, body = post("/api/tasks/sleep/stop", "")
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		Expect(body).To(HaveKey("error"))
	})

	It("should send each line of the body as input", func() {
		resp, _ := post("/api/tasks/chat/start", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp, _ = post("/api/tasks/chat/input", "one\ntwo\n")
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		resp, _ = post("/api/tasks/chat/stop", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		logs, err := http.Get(srv.URL + "/api/tasks/chat/logs")
		Expect(err).NotTo(HaveOccurred())
		defer logs.Body.Close()
		Expect(readFrames(logs.Body)).To(Equal([]string{"got one", "got two", supervisor.DefaultStoppedText}))
	})

	It("should push events to subscribers", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		started, _ := post("/api/tasks/echo/start", `{"text": "pushed"}`)
		Expect(started.StatusCode).To(Equal(http.StatusOK))

		sc := bufio.NewScanner(resp.Body)
		var seen []tasks.Event
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var ev tasks.Event
			Expect(json.Unmarshal([]byte(data), &ev)).To(Succeed())
			seen = append(seen, ev)
			if ev.IsTerminal() {
				break
			}
		}
		Expect(seen).NotTo(BeEmpty())
		Expect(seen[0].Category).To(Equal(catEcho))
		Expect(seen[0].Text).To(Equal("pushed"))
		Expect(seen[len(seen)-1].Sentinel).To(Equal(tasks.SentinelCompleted))
	})

	When("recognizing files", func() {
		It("should return the recognized text", func() {
			resp, body := post("/api/recognize", `{"file": "clip.wav", "model": "good"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("text", "hello\nworld"))
		})
		It("should return the recognizer's diagnostics on failure", func() {
			resp, body := post("/api/recognize", `{"file": "clip.wav", "model": "bad"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(body["error"]).To(ContainSubstring("unknown model bad"))
		})
		It("should name log frames after their stream", func() {
			resp, _ := post("/api/tasks/file-recognition/start", `{"file": "clip.wav", "model": "bad"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			logs, err := http.Get(srv.URL + "/api/tasks/file-recognition/logs")
			Expect(err).NotTo(HaveOccurred())
			defer logs.Body.Close()
			frames := readSSE(logs.Body)
			Expect(frames).To(ContainElement(sseFrame{Event: "error", Data: "unknown model bad"}))
			Expect(frames[len(frames)-1]).To(Equal(sseFrame{Event: "terminal", Data: supervisor.DefaultCompletedText}))
		})
		It("should reject files outside the upload directory", func() {
			resp, _ := post("/api/recognize", `{"file": "../clip.wav", "model": "good"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	DescribeTable("should map errors to status codes",
		func(method, path, body string, code int) {
			req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(code))
		},
		Entry("unknown category", http.MethodGet, "/api/tasks/nope", "", http.StatusNotFound),
		Entry("invalid params", http.MethodPost, "/api/tasks/echo/start", `{"bogus": "x"}`, http.StatusBadRequest),
		Entry("malformed body", http.MethodPost, "/api/tasks/echo/start", `{`, http.StatusBadRequest),
		Entry("no runs", http.MethodGet, "/api/tasks/sleep/logs", "", http.StatusNotFound),
		Entry("input while idle", http.MethodPost, "/api/tasks/chat/input", "x", http.StatusConflict),
		Entry("missing artifact", http.MethodGet, "/audio/missing.wav", "", http.StatusNotFound),
	)
})
