package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/mq"
	"github.com/you/therapy-booking/pkg/obs"
	httpx "github.com/you/therapy-booking/services/payment-service/internal/http"
	omisecli "github.com/you/therapy-booking/services/payment-service/internal/omise"
	paysvc "github.com/you/therapy-booking/services/payment-service/internal/service"
)

type Cfg struct {
	WebhookHTTPAddr string `envconfig:"PAYMENT_WEBHOOK_HTTP_ADDR" default:":8081"`
	OmisePub        string `envconfig:"OMISE_PUBLIC_KEY" required:"true"`
	OmiseSec        string `envconfig:"OMISE_SECRET_KEY" required:"true"`
	RabbitURL       string `envconfig:"RABBIT_URL" required:"true"`
	PaymentExchange string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
}

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	_ = godotenv.Load(".env")
	var cfg Cfg
	must(0, envconfig.Process("", &cfg))
	logger := obs.NewLogger("payment-service")

	// Omise client
	omc := must(gateway.NewOmiseClient(cfg.OmisePub, cfg.OmiseSec))

	// MQ publisher
	pub := must(mq.NewPublisher(cfg.RabbitURL, cfg.PaymentExchange))
	defer pub.Close()

	svc := paysvc.NewPaymentSvc(gateway.NewOmise(omc, cfg.OmiseSec), pub, logger)
	srv := &http.Server{
		Addr:              cfg.WebhookHTTPAddr,
		Handler:           httpx.NewRouter(omisecli.NewEventSource(omc), svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Println("[payment] http listening on", cfg.WebhookHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// graceful
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("[payment] stopped")
}
