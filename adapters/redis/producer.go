package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var (
	ErrProducerClosed = errors.New("producer is closed")
)

type producerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
	parseFunc  func(T) (map[string]any, error)
}

type ProducerOption[T any] func(*producerOptions[T])

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger[T any](logger *slog.Logger) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize[T any](size int) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置 stream 的近似長度上限，0 代表不修剪
func WithProducerMaxLen[T any](maxLen int64) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.maxLen = maxLen
	}
}

// WithProducerParseFunc 設置消息序列化函數
func WithProducerParseFunc[T any](fn func(T) (map[string]any, error)) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.parseFunc = fn
	}
}

// publishRequest 等待寫入的消息，result 收到 XADD 的結果
type publishRequest struct {
	message map[string]any
	result  chan error
}

// Producer 由單一背景 goroutine 依序將消息寫入 Redis Stream
type Producer[T any] struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[publishRequest]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    producerOptions[T]
}

func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption[T]) (*Producer[T], error) {
	const op = "NewProducer"
	if client == nil {
		return nil, fmt.Errorf("[%s] Redis client cannot be nil", op)
	}
	if stream == "" {
		return nil, fmt.Errorf("[%s] Stream cannot be empty", op)
	}

	options := producerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 100,
		parseFunc:  DefaultParseToMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 啟動背景寫入，重複呼叫不會產生新的 goroutine
func (p *Producer[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[publishRequest](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("Stream producer started")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, p.upstream.Out)
	}()
}

func (p *Producer[T]) run(ctx context.Context, out <-chan publishRequest) {
	defer p.logger.Info("Producer goroutine stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-out:
			if !ok {
				return
			}
			err := p.send(ctx, req.message)
			req.result <- err
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// send 寫入單筆消息，失敗不重試，由呼叫端決定如何處理
func (p *Producer[T]) send(ctx context.Context, message map[string]any) error {
	const op = "send"
	args := &redis.XAddArgs{Stream: p.stream, Values: message}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("Fail to add message to stream", slog.String("op", op), slog.Any("error", err))
		return err
	}
	p.logger.Debug("Message added to stream", slog.String("op", op), slog.String("messageId", id))
	return nil
}

// Publish 序列化 data 後交給背景 goroutine 寫入，等到 XADD 完成才返回，
// 回傳 nil 代表消息已經在 stream 中
func (p *Producer[T]) Publish(ctx context.Context, data T) error {
	const op = "Publish"
	message, err := p.options.parseFunc(data)
	if err != nil {
		return fmt.Errorf("[%s] Fail to parse message, err=%w", op, err)
	}
	req := publishRequest{message: message, result: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("[%s] %w", op, ErrProducerClosed)
	}
	p.upstream.In <- req
	p.mu.RUnlock()

	select {
	case err := <-req.result:
		if err != nil {
			return fmt.Errorf("[%s] Fail to add message to stream, err=%w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("[%s] %w", op, ctx.Err())
	}
}

// Close 停止接收新消息，等緩衝中的消息都寫入後才返回
func (p *Producer[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.upstream.In)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancelFunc()
	p.logger.Info("Stream producer closed")
}
