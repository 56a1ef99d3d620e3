package redis

import "context"

// IProducer 定義了 Producer 的操作介面
type IProducer[T any] interface {
	Start()
	Publish(ctx context.Context, data T) error
	Close()
}

// IGroupConsumer 定義了 GroupConsumer 的操作介面
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

var (
	_ IProducer[struct{}]      = (*Producer[struct{}])(nil)
	_ IGroupConsumer[struct{}] = (*GroupConsumer[struct{}])(nil)
)
