package processorsync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/models/reports"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxWebhookBody = 1 << 20

// Service holds the dependencies of the reconciliation HTTP surface.
type Service struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Reconciler *workflow.Reconciler
	Reporter   *reports.Reporter
	Settings   config.Settings
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}

func (s *Service) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/reconciliation")
	api.POST("/sync", s.SyncHandler())
	api.GET("/summary", s.SummaryHandler())
	api.GET("/lifecycle", s.LifecycleHandler())
	api.GET("/unlinked-events", s.UnlinkedEventsHandler())
	api.GET("/unlinked-events/export", s.ExportUnlinkedEventsHandler())
	api.GET("/parity-check", s.ParityCheckHandler())
	api.GET("/runs", s.RunHistoryHandler())
	api.GET("/runs/:run_id", s.RunDetailHandler())

	r.POST("/webhooks/processor", s.WebhookHandler())
	r.POST("/pubsub/reconciliation", s.PubSubPushHandler())
}

func (s *Service) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := utils.SetTriggeredByInContext(c.Request.Context(), string(models.TriggeredManual))
		result, err := s.Reconciler.Run(ctx, workflow.RunRequest{
			ProcessorAccountId: req.ProcessorAccountId,
			Backfill:           req.Backfill,
			MaxEvents:          req.MaxEvents,
			TriggeredBy:        models.TriggeredManual,
		})
		if err != nil {
			switch {
			case errors.Is(err, workflow.ErrRunInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, models.ErrProcessorAccountNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			default:
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, toReconcileResult(result))
	}
}

// periodParam resolves ?period=YYYY-MM, defaulting to the current UTC month.
// It writes the 400 itself and reports false on a bad value.
func (s *Service) periodParam(c *gin.Context) (models.Period, bool) {
	period, err := models.ResolvePeriod(c.Query("period"), s.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return period, true
}

func (s *Service) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period, ok := s.periodParam(c)
		if !ok {
			return
		}
		summary, err := s.Reporter.GetReconciliationSummary(c.Request.Context(), period)
		if err != nil {
			s.internalError(c, "SummaryHandler", period, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func (s *Service) LifecycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period, ok := s.periodParam(c)
		if !ok {
			return
		}
		summary, err := s.Reporter.GetLifecycleSummary(c.Request.Context(), period)
		if err != nil {
			s.internalError(c, "LifecycleHandler", period, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func (s *Service) UnlinkedEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period, ok := s.periodParam(c)
		if !ok {
			return
		}
		events, err := s.Reporter.ListUnlinkedEvents(c.Request.Context(), period, c.Query("kind"))
		if err != nil {
			if errors.Is(err, reports.ErrInvalidKindFilter) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.internalError(c, "UnlinkedEventsHandler", period, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func (s *Service) ExportUnlinkedEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period, ok := s.periodParam(c)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := s.Reporter.ExportUnlinkedEvents(c.Request.Context(), period, &buf); err != nil {
			s.internalError(c, "ExportUnlinkedEventsHandler", period, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=unlinked-events-%s.xlsx", period))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	}
}

func (s *Service) ParityCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period, ok := s.periodParam(c)
		if !ok {
			return
		}
		check, err := s.Reporter.ParityCheck(c.Request.Context(), period)
		if err != nil {
			s.internalError(c, "ParityCheckHandler", period, err)
			return
		}
		c.JSON(http.StatusOK, check)
	}
}

func (s *Service) RunHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var accountId uint
		if v := strings.TrimSpace(c.Query("processor_account_id")); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid processor_account_id"})
				return
			}
			accountId = uint(n)
		}
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		runs, err := s.Reporter.ListRuns(c.Request.Context(), accountId, limit)
		if err != nil {
			s.internalError(c, "RunHistoryHandler", accountId, err)
			return
		}
		c.JSON(http.StatusOK, RunHistoryResponse{Items: runs})
	}
}

func (s *Service) RunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId := strings.TrimSpace(c.Param("run_id"))
		run, err := models.GetReconciliationRun(c.Request.Context(), s.DB, runId)
		if err != nil {
			s.internalError(c, "RunDetailHandler", runId, err)
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		counts, err := models.CountPaymentEventsByRun(c.Request.Context(), s.DB, runId)
		if err != nil {
			s.internalError(c, "RunDetailHandler", runId, err)
			return
		}
		if counts == nil {
			counts = []models.EventStatusCount{}
		}
		c.JSON(http.StatusOK, RunDetailResponse{ReconciliationRun: *run, EventCounts: counts})
	}
}

// WebhookHandler ingests one signed processor event. A 2xx tells the
// processor to stop redelivering, so only infrastructure failures return 5xx.
func (s *Service) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Settings.WebhookSecret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret not configured"})
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := VerifySignature(body, c.GetHeader(SignatureHeader), s.Settings.WebhookSecret, s.Settings.WebhookTolerance, s.now()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		accountId, err := s.webhookAccount(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx = utils.SetProcessorAccountIdInContext(ctx, accountId)

		outcome, prepared, err := workflow.IngestProcessorEvent(ctx, s.DB, s.Reconciler.Linker, body, workflow.IngestMeta{
			ProcessorAccountId: accountId,
			Source:             models.EventSourceWebhook,
			ReceivedAt:         s.now(),
		})
		if err != nil {
			s.internalError(c, "WebhookHandler", prepared.EventId, err)
			return
		}
		s.logger().WithFields(logrus.Fields{
			"field":                "Webhook",
			"processor_account_id": accountId,
			"event_id":             prepared.EventId,
			"outcome":              outcome,
		}).Info("processor event ingested")
		c.JSON(http.StatusOK, WebhookResponse{Received: true, EventId: prepared.EventId, Outcome: outcome})
	}
}

// webhookAccount picks ?processor_account_id, or the only connected account.
func (s *Service) webhookAccount(c *gin.Context) (uint, error) {
	if v := strings.TrimSpace(c.Query("processor_account_id")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, errors.New("invalid processor_account_id")
		}
		acc, err := models.GetProcessorAccount(c.Request.Context(), s.DB, uint(n))
		if err != nil {
			return 0, err
		}
		return acc.ID, nil
	}
	accounts, err := models.ListConnectedProcessorAccounts(c.Request.Context(), s.DB)
	if err != nil {
		return 0, err
	}
	if len(accounts) != 1 {
		return 0, errors.New("processor_account_id is required")
	}
	return accounts[0].ID, nil
}

// PubSubPushHandler runs a reconciliation requested over Pub/Sub push.
// Malformed messages and run conflicts are acked; other failures are
// returned as 5xx so Pub/Sub redelivers.
func (s *Service) PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Settings.EnablePubSubPush {
			c.Status(http.StatusNoContent)
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		payload, err := decodePushPayload(body)
		if err != nil || payload.ProcessorAccountId == 0 {
			s.logger().WithFields(logrus.Fields{"field": "PubSubPush"}).Warn("dropping malformed reconciliation message")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		}
		ctx = utils.SetTriggeredByInContext(ctx, string(models.TriggeredPubSub))
		_, err = s.Reconciler.Run(ctx, workflow.RunRequest{
			ProcessorAccountId: payload.ProcessorAccountId,
			Backfill:           payload.Backfill,
			MaxEvents:          payload.MaxEvents,
			TriggeredBy:        models.TriggeredPubSub,
		})
		switch {
		case err == nil, errors.Is(err, workflow.ErrRunInProgress), errors.Is(err, models.ErrProcessorAccountNotFound):
			if err != nil {
				s.logger().WithFields(logrus.Fields{
					"field":                "PubSubPush",
					"processor_account_id": payload.ProcessorAccountId,
				}).Warn("reconciliation skipped: " + err.Error())
			}
			c.Status(http.StatusNoContent)
		default:
			s.internalError(c, "PubSubPushHandler", payload, err)
		}
	}
}

func (s *Service) internalError(c *gin.Context, funcName string, data any, err error) {
	fields := logrus.Fields(utils.ContextLogFields(c.Request.Context()))
	fields["module"] = "handlers.go"
	fields["funcName"] = funcName
	fields["context"] = c.Request.URL.Path
	if data != nil {
		fields["data"] = data
	}
	s.logger().WithFields(fields).Error(err.Error())
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
