package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"sql-workbench/internal/config"
	"sql-workbench/internal/models"
	"sql-workbench/internal/notify"
	"sql-workbench/internal/queue"
	"sql-workbench/internal/scheduler"
	"sql-workbench/internal/store"
	"sql-workbench/internal/telemetry"
	"sql-workbench/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		log.Printf("s3 client unavailable, s3 sources and exports disabled: %v", err)
	}

	var exporter worker.ResultExporter
	if cfg.ResultS3Bucket != "" && s3Client != nil {
		exporter = worker.NewS3Exporter(s3Client, cfg.ResultS3Bucket, cfg.ResultS3Prefix)
	} else {
		exporter = worker.NewLocalExporter(cfg.ResultDir)
	}

	downloader := worker.NewDownloader(nil)
	if s3Client != nil {
		downloader = worker.NewDownloader(s3Client)
	}

	var notifier notify.Notifier
	if cfg.SMTPAddr != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	emitter := notify.NewEmitter(st, notifier)

	executor := worker.NewExecutor(st, emitter, downloader, worker.NewDatasetSink(), exporter, nil, cfg.TaskTimeout)

	// A schedule fire turns into a queued upload task; the processor loop
	// picks it up like any other task.
	fire := func(d models.ScheduleDescriptor) {
		fireCtx, cancelFire := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelFire()

		task, err := st.CreateTask(fireCtx, store.CreateTaskParams{
			Kind:  models.KindScheduledUpload,
			Owner: d.Owner,
			Payload: models.TaskPayload{
				Dialect: cfg.WarehouseDialect,
				DSN:     cfg.WarehouseDSN,
				Upload: &models.UploadSpec{
					ScheduleID:  d.ID,
					SourceType:  d.SourceType,
					SourcePath:  d.SourcePath,
					TableName:   d.TargetTable,
					Credentials: d.Credentials,
				},
			},
		})
		if err != nil {
			log.Printf("scheduler: create upload task for schedule %d: %v", d.ID, err)
			return
		}
		if err := q.Enqueue(fireCtx, task.ID); err != nil {
			log.Printf("scheduler: enqueue task %s: %v", task.ID, err)
			return
		}

		if d.Frequency == models.FreqOnce {
			if err := st.SetScheduleActive(fireCtx, d.ID, false); err != nil {
				log.Printf("scheduler: deactivate one-shot schedule %d: %v", d.ID, err)
			}
			return
		}
		if every, ok := models.FrequencyInterval(d.Frequency); ok {
			if err := st.UpdateScheduleNextRun(fireCtx, d.ID, time.Now().UTC().Add(every)); err != nil {
				log.Printf("scheduler: advance next_run for schedule %d: %v", d.ID, err)
			}
		}
	}

	sched := scheduler.New(st, fire)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	go func() {
		if err := scheduler.Listen(ctx, redisClient, sched, st); err != nil && ctx.Err() == nil {
			log.Printf("schedule listener stopped: %v", err)
		}
	}()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started: count=%d visibility=%s task_timeout=%s", cfg.WorkerCount, cfg.VisibilityTimeout, cfg.TaskTimeout)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			proc := worker.NewProcessor(cfg, q, executor)
			if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("processor %d stopped: %v", n, err)
			}
		}(i)
	}
	wg.Wait()
}

// newS3Client honors custom endpoints (MinIO and friends) and static
// credentials when configured, otherwise the default AWS chain.
func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}
