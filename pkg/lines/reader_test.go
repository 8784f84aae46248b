package lines_test

import (
	"io"
	"os"
	"slices"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/voicebox/pkg/lines"
)

func collect(r io.Reader) ([]string, *lines.Reader) {
	lr := lines.NewReader(r)
	return slices.Collect(lr.All()), lr
}

var _ = Describe("Reader", func() {
	It("should split on newlines and bare carriage returns", func() {
		out, lr := collect(strings.NewReader("a\nb\rc\r\nd"))
		Expect(out).To(Equal([]string{"a", "b", "c", "d"}))
		Expect(lr.Err()).NotTo(HaveOccurred())
	})
	It("should trim whitespace and skip empty lines", func() {
		out, _ := collect(strings.NewReader("  hello \n\n\t\n world\t\n   "))
		Expect(out).To(Equal([]string{"hello", "world"}))
	})
	It("should yield nothing for an empty stream", func() {
		out, lr := collect(strings.NewReader(""))
		Expect(out).To(BeEmpty())
		Expect(lr.Err()).NotTo(HaveOccurred())
	})
	It("should replace invalid utf-8", func() {
		out, _ := collect(strings.NewReader("ok \xff\xfe done\n"))
		Expect(out).To(Equal([]string{"ok � done"}))
	})
	It("should split lines that exceed the maximum length", func() {
		long := strings.Repeat("x", lines.MaxLineLength+10)
		out, lr := collect(strings.NewReader(long + "\nafter\n"))
		Expect(lr.Err()).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(3))
		Expect(out[0]).To(HaveLen(lines.MaxLineLength))
		Expect(out[1]).To(Equal("xxxxxxxxxx"))
		Expect(out[2]).To(Equal("after"))
	})
	It("should stop early when the consumer stops iterating", func() {
		lr := lines.NewReader(strings.NewReader("1\n2\n3\n"))
		var got []string
		for line := range lr.All() {
			got = append(got, line)
			if len(got) == 2 {
				break
			}
		}
		Expect(got).To(Equal([]string{"1", "2"}))
	})
	When("reading from a pipe", func() {
		It("should deliver lines incrementally as they are written", func() {
			r, w, err := os.Pipe()
			Expect(err).NotTo(HaveOccurred())
			defer r.Close()

			recv := make(chan string, 10)
			go func() {
				defer close(recv)
				for line := range lines.NewReader(r).All() {
					recv <- line
				}
			}()

			_, err = w.WriteString("first\n")
			Expect(err).NotTo(HaveOccurred())
			Eventually(recv).Should(Receive(Equal("first")))

			_, err = w.WriteString("50%\r")
			Expect(err).NotTo(HaveOccurred())
			Eventually(recv).Should(Receive(Equal("50%")))

			_, err = w.WriteString("partial")
			Expect(err).NotTo(HaveOccurred())
			Consistently(recv, 100*time.Millisecond).ShouldNot(Receive())

			Expect(w.Close()).To(Succeed())
			Eventually(recv).Should(Receive(Equal("partial")))
			Eventually(recv).Should(BeClosed())
		})
		It("should end when a read deadline expires", func() {
			r, w, err := os.Pipe()
			Expect(err).NotTo(HaveOccurred())
			defer r.Close()
			defer w.Close()

			_, err = w.WriteString("buffered\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.SetReadDeadline(time.Now().Add(50 * time.Millisecond))).To(Succeed())

			out, lr := collect(r)
			Expect(out).To(Equal([]string{"buffered"}))
			Expect(lr.DeadlineExceeded()).To(BeTrue())
		})
	})
})
