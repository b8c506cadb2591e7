package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"bitbucket.org/mmdatafocus/drum_backend/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data        []byte            `json:"data,omitempty"`
		ID          string            `json:"id"`
		PublishTime string            `json:"publishTime,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var errEmptyBarcode = errors.New("barcode is required")

// decodeScannerMessage falls back to publishedAt when the scanner sent no timestamp.
func decodeScannerMessage(data []byte, publishedAt string) (workflow.ScanRequest, error) {
	var m config.ScannerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return workflow.ScanRequest{}, err
	}
	if m.Barcode == "" {
		return workflow.ScanRequest{}, errEmptyBarcode
	}
	if m.Timestamp == "" {
		m.Timestamp = publishedAt
	}
	return workflow.ScanRequest{
		Barcode:   m.Barcode,
		Timestamp: m.Timestamp,
		ScannerId: m.ScannerId,
		Source:    workflow.ScanSourcePubSub,
	}, nil
}

// handleScannerMessage is shared by the push endpoint and the pull subscriber.
func (a *app) handleScannerMessage(ctx context.Context, messageId, publishedAt string, data []byte) workflow.MessageDisposition {
	logger := a.logger
	req, err := decodeScannerMessage(data, publishedAt)
	if err != nil {
		// Poisoned payloads are acked so they do not redeliver forever.
		config.LogError(logger, "scannerWorkflow.go", "handleScannerMessage", "decode scanner message", string(data), err)
		return workflow.DispositionAck
	}

	scanner, idem := a.currentScanner()
	if scanner == nil {
		return workflow.DispositionRetry
	}

	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		ctx = utils.SetCorrelationIdInContext(ctx, messageId)
	}
	if req.ScannerId != "" {
		ctx = utils.SetScannerIdInContext(ctx, req.ScannerId)
	}

	res, disp, err := workflow.ProcessScannerMessage(ctx, idem, scanner, messageId, req)
	fields := logrus.Fields{
		"field":      "ScannerWorkflow",
		"message_id": messageId,
		"barcode":    req.Barcode,
		"scanner_id": req.ScannerId,
	}
	if res != nil {
		fields["outcome"] = res.Outcome
		fields["reason"] = res.Reason
	}
	switch {
	case disp == workflow.DispositionRetry:
		msg := "scanner message will be retried"
		if err != nil {
			msg += ": " + err.Error()
		}
		logger.WithFields(fields).Error(msg)
	case res == nil:
		logger.WithFields(fields).Info("duplicate scanner message skipped")
	case err != nil:
		logger.WithFields(fields).Warn("scan applied but idempotency key not updated: " + err.Error())
	}
	return disp
}

func (a *app) pubsubScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(a.logger, "scannerWorkflow.go", "pubsubScanHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg PubSubMessage
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(a.logger, "scannerWorkflow.go", "pubsubScanHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		// Non-2xx tells Pub/Sub to redeliver.
		if a.handleScannerMessage(c.Request.Context(), msg.Message.ID, msg.Message.PublishTime, msg.Message.Data) == workflow.DispositionRetry {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RunScannerWorkflow pulls from SCANNER_SUBSCRIPTION until ctx is done.
func RunScannerWorkflow(ctx context.Context, a *app) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	var sub *pubsub.Subscription
	if topicName := config.ScannerTopic(); topicName != "" {
		topic, err := config.CreateTopicIfNotExists(ctx, client, topicName)
		if err != nil {
			return err
		}
		sub, err = config.CreateSubscriptionIfNotExists(ctx, client, config.ScannerSubscription(), topic)
		if err != nil {
			return err
		}
	} else {
		sub = client.Subscription(config.ScannerSubscription())
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		if a.handleScannerMessage(ctx, msg.ID, msg.PublishTime.UTC().Format(time.RFC3339), msg.Data) == workflow.DispositionRetry {
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(a.logger, "scannerWorkflow.go", "RunScannerWorkflow", "Failed to receive messages", nil, err)
		}
	}()
	return nil
}
