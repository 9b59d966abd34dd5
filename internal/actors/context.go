package actors

import "context"

type viewerContextKey struct{}

// ContextWithViewer stores the authenticated viewer in context.
func ContextWithViewer(ctx context.Context, viewer Actor) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, viewer)
}

// ViewerFromContext extracts the viewer from context.
func ViewerFromContext(ctx context.Context) (Actor, bool) {
	viewer, ok := ctx.Value(viewerContextKey{}).(Actor)
	return viewer, ok
}
