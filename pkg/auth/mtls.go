package auth

import (
	"context"
	"crypto/x509"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// NewMTLSAuthenticator names callers by the subject common name of their
// verified client certificate.
func NewMTLSAuthenticator() Authenticator {
	return mtlsAuthenticator{}
}

type mtlsAuthenticator struct{}

func (mtlsAuthenticator) Authenticate(ctx context.Context) (AuthenticatedUser, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", status.Error(codes.Internal, "no peer info found")
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "client did not connect with TLS")
	}
	if cn := commonName(info.State.VerifiedChains); cn != "" {
		return AuthenticatedUser(cn), nil
	}
	return "", status.Error(codes.Unauthenticated, "no subject common name found in any verified chains")
}

// commonName returns the common name of the first verified leaf that has one.
func commonName(chains [][]*x509.Certificate) string {
	for _, chain := range chains {
		if len(chain) > 0 && chain[0].Subject.CommonName != "" {
			return chain[0].Subject.CommonName
		}
	}
	return ""
}
