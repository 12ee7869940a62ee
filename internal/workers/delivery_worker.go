package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"apigate/internal/engine/webhooks"
	"apigate/internal/platform/config"
	"apigate/internal/platform/repositories"
)

// DeliveryWorker drives all webhook sends: it periodically sweeps the due
// deliveries (first attempts and retries alike) and fans them out to a fixed
// pool of senders. Sweeps never overlap; a slow batch just delays the next
// tick's work.
type DeliveryWorker struct {
	deliveries *repositories.WebhookDeliveryRepository
	dispatcher *webhooks.Dispatcher
	cfg        config.WebhooksConfig
}

func NewDeliveryWorker(deliveries *repositories.WebhookDeliveryRepository, dispatcher *webhooks.Dispatcher, cfg config.WebhooksConfig) *DeliveryWorker {
	return &DeliveryWorker{deliveries: deliveries, dispatcher: dispatcher, cfg: cfg}
}

// Run blocks until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeliveryWorker) sweep(ctx context.Context) {
	due, err := w.deliveries.ListDue(time.Now().Unix(), w.cfg.SweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due deliveries")
		return
	}
	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("sweeping due webhook deliveries")

	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := w.dispatcher.Send(ctx, id); err != nil && err != webhooks.ErrDeliveryFinal {
					log.Error().Err(err).Str("delivery_id", id).Msg("delivery send failed")
				}
			}
		}()
	}

	for _, d := range due {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- d.ID:
		}
	}
	close(jobs)
	wg.Wait()
}
