// ABOUTME: Request context carrying the verified caller subject
// ABOUTME: Set by the HTTP middleware, read by the stream handler

package auth

import "context"

type subjectKey struct{}

// WithSubject returns a context carrying the verified subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the verified subject, or "" for anonymous requests.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}
