package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sonta/internal/config"
	"sonta/internal/queue"
	"sonta/internal/store"
)

// Worker consumes check-in events off the queue and fans out admin
// notifications. Delivery channels (SMS, push) plug in behind notify; for
// now events land in the log so operators can tail them.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypePendingReview:
			var ev queue.PendingReviewEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				log.Printf("bad pending-review payload: %v", err)
				continue
			}
			notifyPendingReview(ev)

		case queue.TypeAttendanceRecorded:
			var ev queue.AttendanceEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				log.Printf("bad attendance payload: %v", err)
				continue
			}
			notifyAttendance(ev)

		default:
			log.Printf("skipping unknown message type %q", msg.Type)
		}
	}

	log.Println("worker stopped")
}

func notifyPendingReview(ev queue.PendingReviewEvent) {
	log.Printf("pending verification %s needs admin review (confidence %.2f)",
		ev.PendingVerificationID, ev.Confidence)
}

func notifyAttendance(ev queue.AttendanceEvent) {
	late := ""
	if ev.IsLate {
		late = " (late)"
	}
	log.Printf("attendance %s recorded: sonta head %s checked in to meeting %s via %s%s",
		ev.AttendanceID, ev.SontaHeadID, ev.MeetingID, ev.Method, late)
}
