package auth_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/kralicky/voicebox/pkg/auth"
)

type plainAuthInfo struct{}

func (plainAuthInfo) AuthType() string { return "plain" }

func tlsPeer(commonNames ...string) context.Context {
	var chains [][]*x509.Certificate
	for _, cn := range commonNames {
		chains = append(chains, []*x509.Certificate{{Subject: pkix.Name{CommonName: cn}}})
	}
	return peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{VerifiedChains: chains}},
	})
}

var _ = Describe("Authentication", func() {
	When("using client certificates", func() {
		authn := auth.NewMTLSAuthenticator()

		It("should name the user after the certificate's common name", func() {
			user, err := authn.Authenticate(tlsPeer("", "admin"))
			Expect(err).NotTo(HaveOccurred())
			Expect(user).To(BeEquivalentTo("admin"))
		})
		It("should reject certificates without a common name", func() {
			_, err := authn.Authenticate(tlsPeer(""))
			Expect(status.Code(err)).To(Equal(codes.Unauthenticated))
		})
		It("should reject connections without TLS", func() {
			ctx := peer.NewContext(context.Background(), &peer.Peer{AuthInfo: plainAuthInfo{}})
			_, err := authn.Authenticate(ctx)
			Expect(status.Code(err)).To(Equal(codes.Unauthenticated))
		})
		It("should fail without peer info", func() {
			_, err := authn.Authenticate(context.Background())
			Expect(status.Code(err)).To(Equal(codes.Internal))
		})
	})

	It("should identify every caller as the static user", func() {
		user, err := auth.NewStaticAuthenticator("local").Authenticate(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(user).To(BeEquivalentTo("local"))
	})

	When("running middlewares", func() {
		var calls []string
		record := func(name string, err error) auth.Middleware {
			return auth.MiddlewareFunc(func(ctx context.Context) (context.Context, error) {
				calls = append(calls, name)
				return ctx, err
			})
		}
		handler := func(ctx context.Context, _ any) (any, error) {
			return auth.AuthenticatedUserFromContext(ctx), nil
		}
		info := &grpc.UnaryServerInfo{FullMethod: "/voicebox.task.v1.Task/List"}

		BeforeEach(func() {
			calls = nil
		})

		It("should run them in order and pass the user to the handler", func() {
			intercept := auth.UnaryServerInterceptor([]auth.Middleware{
				auth.NewMiddleware(auth.NewStaticAuthenticator("local")),
				record("rbac", nil),
			})
			resp, err := intercept(context.Background(), nil, info, handler)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(BeEquivalentTo("local"))
			Expect(calls).To(Equal([]string{"rbac"}))
		})
		It("should stop at the first rejection", func() {
			denied := status.Error(codes.PermissionDenied, "denied")
			intercept := auth.UnaryServerInterceptor([]auth.Middleware{
				record("first", denied),
				record("second", nil),
			})
			_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
				return nil, errors.New("handler should not run")
			})
			Expect(err).To(MatchError(denied))
			Expect(calls).To(Equal([]string{"first"}))
		})
	})

	It("should panic when no user was authenticated", func() {
		Expect(func() { auth.AuthenticatedUserFromContext(context.Background()) }).To(Panic())
		_, ok := auth.UserFromContext(context.Background())
		Expect(ok).To(BeFalse())
	})
})
