package controller

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
)

// eventTypeByStatus maps a meeting status onto the webhook event name,
// grounded on the original's get_event_type_from_status.
var eventTypeByStatus = map[models.MeetingStatus]string{
	models.StatusRequested:         "bot.requested",
	models.StatusJoining:           "bot.joining",
	models.StatusAwaitingAdmission: "bot.awaiting_admission",
	models.StatusActive:            "bot.active",
	models.StatusStopping:          "bot.stopping",
	models.StatusCompleted:         "bot.ended",
	models.StatusFailed:            "bot.failed",
}

// WebhookDelivery is one queued status-change notification.
type WebhookDelivery struct {
	URL        string
	Secret     string
	EventType  string
	Payload    map[string]interface{}
	Attempt    int
}

// WebhookQueue delivers status-change webhooks asynchronously with bounded
// retries and exponential backoff, grounded on the original's
// send_status_webhook task (HMAC-SHA256 signature header, per-account URL)
// adapted from Celery's at-least-once task dispatch to an in-process worker
// pool since Temporal/Celery were both dropped as dependencies.
type WebhookQueue struct {
	logger     *zap.Logger
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.HTTPWrapper

	ch     chan WebhookDelivery
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWebhookQueue starts a fixed pool of delivery workers.
func NewWebhookQueue(logger *zap.Logger, workers, maxRetries int, backoff time.Duration) *WebhookQueue {
	q := &WebhookQueue{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: maxRetries,
		backoff:    backoff,
		breakers:   make(map[string]*circuitbreaker.HTTPWrapper),
		ch:         make(chan WebhookDelivery, 256),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// wrapperFor returns the circuit breaker for rawURL's host, creating one on
// first use. Breakers are scoped per host rather than shared across all
// deliveries, so one account's unreachable endpoint can't trip delivery to
// every other account.
func (q *WebhookQueue) wrapperFor(rawURL string) *circuitbreaker.HTTPWrapper {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	q.breakersMu.Lock()
	defer q.breakersMu.Unlock()
	if hw, ok := q.breakers[host]; ok {
		return hw
	}
	hw := circuitbreaker.NewHTTPWrapper(q.httpClient, "webhook:"+host, "controller", q.logger)
	q.breakers[host] = hw
	return hw
}

// Stop drains in-flight sends and shuts the worker pool down.
func (q *WebhookQueue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// EnqueueStatusChange builds and queues a status-change webhook for a
// meeting, a no-op if the account has no webhook configured.
func (q *WebhookQueue) EnqueueStatusChange(account *models.Account, meeting *models.Meeting, oldStatus models.MeetingStatus, reason string, source models.TransitionSource) {
	if account.WebhookURL == "" {
		return
	}
	eventType := eventTypeByStatus[meeting.Status]
	if eventType == "" {
		eventType = "meeting.status_change"
	}

	payload := map[string]interface{}{
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]interface{}{
			"old_status":        oldStatus,
			"new_status":        meeting.Status,
			"reason":            reason,
			"transition_source": source,
		},
		"meeting": map[string]interface{}{
			"id":                meeting.ID,
			"account_id":        meeting.AccountID,
			"platform":          meeting.Platform,
			"native_meeting_id": meeting.NativeMeetingID,
			"status":            meeting.Status,
			"workload_handle":   meeting.WorkloadHandle,
			"start_time":        meeting.StartTime,
			"end_time":          meeting.EndTime,
			"created_at":        meeting.CreatedAt,
			"updated_at":        meeting.UpdatedAt,
		},
	}

	select {
	case q.ch <- WebhookDelivery{URL: account.WebhookURL, Secret: account.WebhookSecret, EventType: eventType, Payload: payload}:
	default:
		q.logger.Warn("webhook queue full, dropping delivery", zap.String("url", account.WebhookURL))
	}
}

func (q *WebhookQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case d := <-q.ch:
			q.attempt(d)
		}
	}
}

func (q *WebhookQueue) attempt(d WebhookDelivery) {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		q.logger.Error("marshal webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		q.logger.Error("build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meetbot-Event", d.EventType)
	req.Header.Set("X-Meetbot-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if d.Secret != "" {
		req.Header.Set("X-Meetbot-Signature", "sha256="+sign(body, d.Secret))
	}

	resp, err := q.wrapperFor(d.URL).Do(req)
	outcome := "success"
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "failure"
	}
	if resp != nil {
		resp.Body.Close()
	}
	metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()

	if outcome == "success" {
		return
	}

	q.logger.Warn("webhook delivery failed",
		zap.String("url", d.URL), zap.Int("attempt", d.Attempt), zap.Error(err))

	if d.Attempt >= q.maxRetries {
		q.logger.Error("webhook delivery exhausted retries", zap.String("url", d.URL))
		return
	}

	delay := q.backoff * time.Duration(1<<uint(d.Attempt))
	d.Attempt++
	go func() {
		select {
		case <-time.After(delay):
		case <-q.stopCh:
			return
		}
		select {
		case q.ch <- d:
		default:
		}
	}()
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildCallbackURL constructs the internal callback URL a scheduled
// workload is given, so it can report status_change callbacks back to this
// Controller.
func BuildCallbackURL(ctx context.Context, base string) string {
	return base + "/bots/internal/callback/status_change"
}
