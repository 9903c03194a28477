package auth

import (
	"context"
	"errors"
	"strings"
)

type noopVerifier struct{}

func newNoopVerifier(_ Config) Verifier {
	return noopVerifier{}
}

// Verify treats the bearer token as "<subjectID>" or "<subjectID>:<email>".
func (noopVerifier) Verify(_ context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, errors.New("token must not be empty")
	}
	subject, email, _ := strings.Cut(token, ":")
	return Session{SubjectID: subject, Email: email, Token: token}, nil
}
