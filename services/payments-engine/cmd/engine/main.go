package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/you/therapy-booking/pkg/auth"
	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/db"
	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/mq"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/cache"
	"github.com/you/therapy-booking/services/payments-engine/internal/calendar"
	cons "github.com/you/therapy-booking/services/payments-engine/internal/consumer"
	"github.com/you/therapy-booking/services/payments-engine/internal/notify"
	"github.com/you/therapy-booking/services/payments-engine/internal/outbox"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/processor"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/service"
	tgrpc "github.com/you/therapy-booking/services/payments-engine/internal/transport/grpc"
	httpx "github.com/you/therapy-booking/services/payments-engine/internal/transport/http"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	cfg := must(config.LoadEngine())
	logger := obs.NewLogger("payments-engine")
	shutdownTracer := obs.InitTracer("payments-engine")
	obs.Register()

	// DB
	gdb := must(db.Connect(context.Background(), cfg.PGEngineDSN, cfg.DBMaxConns))
	store := repository.New(gdb)
	must(0, store.Migrate())

	// Gateway
	gw := gateway.NewOmise(must(gateway.NewOmiseClient(cfg.OmisePub, cfg.OmiseSec)), cfg.OmiseSec)

	var opts []processor.Option
	if cfg.RedisURL != "" {
		rc := must(cache.NewRedis(cfg.RedisURL, cfg.Policy.CompletedCacheTTL, logger))
		defer rc.Close()
		opts = append(opts, processor.WithCache(rc))
	}
	proc := processor.New(store, cfg.Policy, logger, opts...)
	payouts := payout.NewOrchestrator(store, gw, cfg.Policy, logger)
	refunds := refund.NewOrchestrator(store, gw, cfg.Policy, logger)
	bookings := service.NewBookingSvc(store, cfg.Policy, logger)

	// Publisher (notification.send for notification-service)
	notifPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.NotificationExchange))
	defer notifPub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// Outbox workers
	handlers := &outbox.Handlers{
		Store:      store,
		Calendar:   calendar.NewClient(cfg.CalendarBaseURL),
		Notifier:   notify.NewMQ(notifPub),
		Payouts:    payouts,
		Refunds:    refunds,
		MaxRetries: cfg.Policy.OutboxMaxRetries,
		Log:        logger,
	}
	host, _ := os.Hostname()
	for i := 0; i < cfg.Policy.OutboxWorkers; i++ {
		w := outbox.NewWorker(fmt.Sprintf("%s-%d", host, i), store, handlers.Map(), cfg.Policy, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}

	// Payout retry scheduler
	sched := payout.NewScheduler(store, payouts, cfg.Policy.PayoutPollInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// Consumer (payment.succeeded / payment.failed relayed by payment-service)
	paymentCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:                cfg.RabbitURL,
		Exchange:           cfg.PaymentExchange,
		Queue:              cfg.PaymentQueue,
		Keys:               []string{events.RKPaymentSucceeded, events.RKPaymentFailed},
		Prefetch:           cfg.Policy.OutboxBatchSize,
		DeadLetterExchange: cfg.PaymentDLX,
	}))
	defer paymentCons.Close()
	pc := cons.NewPaymentConsumer(proc, paymentCons, logger)
	must(0, pc.Run(ctx))
	log.Println("[engine] consumer started (payment.succeeded, payment.failed)")

	// gRPC
	lis := must(net.Listen("tcp", cfg.EngineGRPCAddr))
	gs := grpc.NewServer()
	tgrpc.RegisterRefundServiceServer(gs, tgrpc.NewRefundServer(refunds))
	tgrpc.RegisterPayoutServiceServer(gs, tgrpc.NewPayoutServer(payouts))
	go func() {
		log.Println("[engine] gRPC listening on", cfg.EngineGRPCAddr)
		log.Fatal(gs.Serve(lis))
	}()

	// HTTP
	srv := &http.Server{
		Addr: cfg.EngineHTTPAddr,
		Handler: httpx.NewRouter(httpx.Deps{
			Store:     store,
			Processor: proc,
			Refunds:   refunds,
			Payouts:   payouts,
			Bookings:  bookings,
			Verifier:  auth.NewVerifier(cfg.JWTSecret),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Println("[engine] HTTP listening on", cfg.EngineHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	gs.GracefulStop()
	wg.Wait()
	_ = shutdownTracer(shutdownCtx)
	log.Println("[engine] stopped")
}
