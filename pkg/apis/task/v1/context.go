package taskv1

import (
	context "context"
)

type (
	taskClientContextKeyType struct{}
)

var taskClientContextKey taskClientContextKeyType

func ContextWithClient(ctx context.Context, client TaskClient) context.Context {
	return context.WithValue(ctx, taskClientContextKey, client)
}

func ClientFromContext(ctx context.Context) (TaskClient, bool) {
	client, ok := ctx.Value(taskClientContextKey).(TaskClient)
	return client, ok
}
