package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

const (
	SettlementQueue = "queue:settlement"

	popTimeout   = time.Second
	lockTTL      = 10 * time.Minute
	retryBackoff = time.Second
)

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "studyrewards_settlement_jobs_total",
	Help: "Settlement jobs taken off the queue, by result.",
}, []string{"result"})

// Handler settles one job. It must be safe to call again for the same job.
type Handler func(ctx context.Context, job models.SettlementJob) error

// Pool runs settlement jobs from a Redis list. A per-generation lock keeps two
// workers from settling the same session at once.
type Pool struct {
	redis       *redis.Client
	workerCount int
	handler     Handler
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      zerolog.Logger
}

func NewPool(redisClient *redis.Client, workerCount int) *Pool {
	return &Pool{
		redis:       redisClient,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
		logger:      logger.WithComponent("worker"),
	}
}

// Dispatch queues a settlement job.
func (p *Pool) Dispatch(ctx context.Context, job models.SettlementJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode settlement job: %w", err)
	}
	if err := p.redis.RPush(ctx, SettlementQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to queue settlement job: %w", err)
	}
	return nil
}

func (p *Pool) Start(handler Handler) {
	p.handler = handler
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().Int("workers", p.workerCount).Msg("settlement workers started")
}

// Stop waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-p.stopChan:
			log.Debug().Msg("worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, SettlementQueue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("queue pop failed")
			select {
			case <-p.stopChan:
				return
			case <-time.After(retryBackoff):
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		p.process(ctx, log, result[1])
	}
}

func (p *Pool) process(ctx context.Context, log zerolog.Logger, payload string) {
	var job models.SettlementJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		log.Error().Err(err).Msg("failed to parse settlement job")
		jobsProcessed.WithLabelValues("invalid").Inc()
		return
	}

	log = log.With().
		Str(logger.FieldUserID, job.UserID.String()).
		Str(logger.FieldGeneration, job.Generation.String()).
		Logger()

	lockKey := fmt.Sprintf("settlement_lock:%s", job.Generation.String())
	locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err != nil || !locked {
		log.Debug().Err(err).Msg("settlement already running elsewhere")
		jobsProcessed.WithLabelValues("skipped").Inc()
		return
	}
	defer p.redis.Del(ctx, lockKey)

	if err := p.run(ctx, job); err != nil {
		log.Error().Err(err).Msg("settlement job failed")
		jobsProcessed.WithLabelValues("error").Inc()
		return
	}
	jobsProcessed.WithLabelValues("done").Inc()
}

func (p *Pool) run(ctx context.Context, job models.SettlementJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in settlement handler: %v", r)
		}
	}()
	return p.handler(ctx, job)
}
