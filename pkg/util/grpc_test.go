package util_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type bareStream struct {
	grpc.ServerStream
}

type userKey struct{}

var _ = Describe("GRPC Utils", func() {
	DescribeTable("SplitFullyQualifiedMethodName",
		func(fqn, service, method string, ok bool) {
			s, m, valid := util.SplitFullyQualifiedMethodName(fqn)
			Expect(valid).To(Equal(ok))
			Expect(s).To(Equal(service))
			Expect(m).To(Equal(method))
		},
		Entry("task method", "/voicebox.task.v1.Task/Start", "voicebox.task.v1.Task", "Start", true),
		Entry("unqualified", "Start", "", "", false),
		Entry("service only", "/voicebox.task.v1.Task", "", "", false),
		Entry("missing leading slash", "voicebox.task.v1.Task/Start", "", "", false),
		Entry("empty service", "//Start", "", "", false),
		Entry("empty method", "/voicebox.task.v1.Task/", "", "", false),
		Entry("extra segment", "/voicebox.task.v1.Task/Start/x", "", "", false),
		Entry("root", "/", "", "", false),
	)

	It("should replace the context of a server stream", func() {
		ctx := context.WithValue(context.Background(), userKey{}, "admin")
		stream := util.ServerStreamWithContext(ctx, bareStream{})
		Expect(stream.Context().Value(userKey{})).To(Equal("admin"))
	})

	Context("StatusFromError", func() {
		DescribeTable("should map supervisor errors to status codes",
			func(err error, code codes.Code) {
				Expect(status.Code(util.StatusFromError(err))).To(Equal(code))
			},
			Entry("already running", fmt.Errorf("%w: speech-synthesis", tasks.ErrAlreadyRunning), codes.AlreadyExists),
			Entry("not running", tasks.ErrNotRunning, codes.FailedPrecondition),
			Entry("not interactive", tasks.ErrNotInteractive, codes.FailedPrecondition),
			Entry("spawn failed", tasks.ErrSpawnFailed, codes.Internal),
			Entry("write failed", tasks.ErrWriteFailed, codes.Unavailable),
			Entry("invalid command", tasks.ErrInvalidCommand, codes.InvalidArgument),
			Entry("unknown category", tasks.ErrUnknownCategory, codes.NotFound),
			Entry("canceled", context.Canceled, codes.Canceled),
			Entry("other", errors.New("other"), codes.Unknown),
		)
		It("should pass status errors through unchanged", func() {
			err := status.Error(codes.PermissionDenied, "denied")
			Expect(util.StatusFromError(err)).To(Equal(err))
		})
		It("should return nil for nil errors", func() {
			Expect(util.StatusFromError(nil)).To(BeNil())
		})
	})

	Context("ErrorFromStatus", func() {
		It("should recover the sentinel error from a status", func() {
			err := util.ErrorFromStatus(util.StatusFromError(fmt.Errorf("%w: vits-training", tasks.ErrAlreadyRunning)))
			Expect(errors.Is(err, tasks.ErrAlreadyRunning)).To(BeTrue())
			Expect(status.Code(err)).To(Equal(codes.AlreadyExists))
		})
		It("should leave unrelated statuses alone", func() {
			err := status.Error(codes.PermissionDenied, "denied")
			Expect(util.ErrorFromStatus(err)).To(Equal(err))
		})
	})
})
