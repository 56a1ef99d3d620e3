package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message 封裝消息和ack所需資料
type Message[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string

	raw map[string]any
}

// ID 回傳消息在 stream 中的 ID
func (m *Message[T]) ID() string {
	return m.messageID
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, id=%s, err=%w", op, m.messageID, err)
	}
	m.done = true
	return nil
}

// Fail 將消息移到 dead-letter stream 並確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}
	if err := deadLetter(ctx, m.client, m.stream, m.group, m.messageID, m.raw, failErr); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	m.done = true
	return nil
}

// deadLetter 將原始內容連同失敗原因寫入 dead-letter stream，再確認原消息
func deadLetter(ctx context.Context, client *redis.Client, stream, group, id string, raw map[string]any, cause error) error {
	values := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		values[k] = v
	}
	values["error"] = cause.Error()
	values["origin_id"] = id
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(stream), Values: values}).Err(); err != nil {
		return fmt.Errorf("Fail to move message to dead letter stream, id=%s, err=%w", id, err)
	}
	if err := client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("Fail to ack dead message, id=%s, err=%w", id, err)
	}
	return nil
}

// DeadLetterStream 回傳 stream 對應的 dead-letter stream 名稱
func DeadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

// GroupConsumer 以 consumer group 讀取 Redis Stream
// 其他實例中斷後留下的 pending 消息，閒置超過 claimMinIdle 會被重新認領
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

type groupConsumerOptions[T any] struct {
	logger        *slog.Logger
	parseFunc     func(map[string]any) (T, error)
	bufferSize    int
	blockTimeout  time.Duration
	claimMinIdle  time.Duration
	claimInterval time.Duration
	batchSize     int64
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerParseFunc 設置消息解析函數
func WithGroupConsumerParseFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.parseFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerClaim 設置 pending 消息的認領條件與檢查間隔
func WithGroupConsumerClaim[T any](minIdle, interval time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.claimMinIdle = minIdle
		o.claimInterval = interval
	}
}

// WithGroupConsumerBatchSize 設置每次讀取的消息數量
func WithGroupConsumerBatchSize[T any](size int64) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.batchSize = size
	}
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	const op = "NewGroupConsumer"
	if client == nil {
		return nil, fmt.Errorf("[%s] Redis client cannot be nil", op)
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, fmt.Errorf("[%s] Stream, group and consumer cannot be empty", op)
	}

	// 默認選項
	options := groupConsumerOptions[T]{
		logger:        slog.Default(),
		parseFunc:     DefaultParseFromMessage[T],
		bufferSize:    1,
		blockTimeout:  time.Second,
		claimMinIdle:  time.Minute,
		claimInterval: 30 * time.Second,
		batchSize:     10,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		logger:   options.logger.With(slog.String("caller", "GroupConsumer"), slog.String("stream", stream), slog.String("group", group), slog.String("consumer", consumer)),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}, nil
}

func (s *GroupConsumer[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.ensureGroup(ctx); err != nil {
		cancel()
		return err
	}
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Group consumer started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		var lastClaim time.Time
		for ctx.Err() == nil {
			if s.options.claimInterval > 0 && time.Since(lastClaim) >= s.options.claimInterval {
				if err := s.claimIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("Fail to claim idle messages", slog.Any("error", err))
				}
				lastClaim = time.Now()
			}
			messages, err := s.readNew(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				// 其他的錯誤一般是server跟redis之間的通訊異常，稍後重試即可
				s.logger.Error("Fail to read from group", slog.Any("error", err))
				s.sleep(ctx, s.options.blockTimeout)
				continue
			}
			for _, message := range messages {
				if err := s.dispatch(ctx, message); err != nil {
					// 沒送出的消息會留在 pending，之後由 claimIdle 重新認領
					return
				}
			}
		}
	}()

	return nil
}

// Subscribe 訂閱Stream，返回Message通道
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Group consumer closed")
	return nil
}

// ensureGroup 建立 consumer group，已存在時忽略
func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("[ensureGroup] Fail to create consumer group, err=%w", err)
	}
	return nil
}

func (s *GroupConsumer[T]) readNew(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.options.batchSize,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// claimIdle 認領閒置太久的 pending 消息，通常是處理到一半就停止的實例留下的
func (s *GroupConsumer[T]) claimIdle(ctx context.Context) error {
	start := "0-0"
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.options.claimMinIdle,
			Start:    start,
			Count:    s.options.batchSize,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("[claimIdle] Fail to claim pending messages, err=%w", err)
		}
		if len(messages) > 0 {
			s.logger.Info("Idle messages claimed", slog.Int("count", len(messages)))
		}
		for _, message := range messages {
			if err := s.dispatch(ctx, message); err != nil {
				return err
			}
		}
		if next == "0-0" || next == "" {
			return nil
		}
		start = next
	}
}

// dispatch 解析消息並送到下游，解析失敗的消息直接移到 dead-letter
func (s *GroupConsumer[T]) dispatch(ctx context.Context, message redis.XMessage) error {
	data, err := s.options.parseFunc(message.Values)
	if err != nil {
		// 解析失敗不會因為重試就成功，移到 dead-letter 後繼續處理下一條
		s.logger.Error("Fail to parse message",
			slog.String("messageId", message.ID),
			slog.Any("error", err),
		)
		if deadLetterErr := deadLetter(ctx, s.client, s.stream, s.group, message.ID, message.Values, err); deadLetterErr != nil {
			s.logger.Error("Fail to dead-letter message",
				slog.String("messageId", message.ID),
				slog.Any("error", deadLetterErr),
			)
		}
		return nil
	}
	msg := &Message[T]{
		Data:      data,
		messageID: message.ID,
		stream:    s.stream,
		group:     s.group,
		client:    s.client,
		raw:       message.Values,
	}
	select {
	case <-ctx.Done():
		return context.Canceled
	case s.downStream <- msg:
		return nil
	}
}

func (s *GroupConsumer[T]) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
