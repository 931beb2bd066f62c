package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// NotificationMessage is the payload published to NOTIFICATION_TOPIC, one per recipient.
type NotificationMessage struct {
	RecipientId   int       `json:"recipient_id"`
	EventKind     string    `json:"event_kind"`
	Message       string    `json:"message"`
	InvoiceId     int       `json:"invoice_id"`
	ActorId       int       `json:"actor_id"`
	CorrelationId string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
	pubsubTopics   = map[string]*pubsub.Topic{}
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// NotificationTopic returns NOTIFICATION_TOPIC, empty when notifications
// are not published to Pub/Sub.
func NotificationTopic() string {
	return strings.TrimSpace(os.Getenv("NOTIFICATION_TOPIC"))
}

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	return getPubSubClient(ctx)
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		// Notification publishing runs on a bounded context; give up with it.
		if ctx.Err() != nil {
			return nil, err
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func notificationTopic(client *pubsub.Client, name string) *pubsub.Topic {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if t, ok := pubsubTopics[name]; ok {
		return t
	}
	t := client.Topic(name)
	pubsubTopics[name] = t
	return t
}

// PublishNotification queues msg on NOTIFICATION_TOPIC and returns without
// waiting for the server ack. A failed ack is only logged.
func PublishNotification(ctx context.Context, msg NotificationMessage) error {
	topicName := NotificationTopic()
	if topicName == "" {
		return errors.New("NOTIFICATION_TOPIC is required")
	}

	client, err := getPubSubClient(ctx)
	if err != nil {
		return err
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	result := notificationTopic(client, topicName).Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"event_kind":     msg.EventKind,
			"correlation_id": msg.CorrelationId,
		},
	})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			log.Printf("notification publish failed (topic=%s recipient_id=%d invoice_id=%d correlation_id=%s): %v",
				topicName, msg.RecipientId, msg.InvoiceId, msg.CorrelationId, err)
		}
	}()
	return nil
}

// ClosePubSub flushes pending notifications and releases the shared client, if any.
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	for name, t := range pubsubTopics {
		t.Stop()
		delete(pubsubTopics, name)
	}
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
