package api

import (
	"context"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"remindflow/consent"
	"remindflow/deadline"
	"remindflow/outbox"
	"remindflow/reminder"
)

type DeadlineService interface {
	GenerateForEntity(ctx context.Context, entityID string) (deadline.GenerateResult, error)
	MarkFiled(ctx context.Context, deadlineID string, proofRef *string) (deadline.MarkFiledResult, error)
}

type ReminderScheduler interface {
	ScheduleFor(ctx context.Context, deadlineID string) (reminder.ScheduleResult, error)
	ScheduleMany(ctx context.Context, deadlineIDs []string) []reminder.ItemResult
}

type ReminderDrainer interface {
	Drain(ctx context.Context, batchSize int, workerID string) (reminder.Summary, error)
}

type MessageDispatcher interface {
	Dispatch(ctx context.Context, batchSize int, workerID string) (outbox.Summary, error)
}

type ConsentGate interface {
	OptOut(ctx context.Context, contactID, reason string) (consent.OptOutResult, error)
	OptIn(ctx context.Context, contactID, reason string) error
	IsEligible(ctx context.Context, contactID string) (bool, error)
}

type ReceiptRecorder interface {
	Record(ctx context.Context, rc outbox.Receipt) (outbox.ReceiptResult, error)
}

// ProofStore is optional; without it multipart filings are rejected.
type ProofStore interface {
	Put(ctx context.Context, deadlineID, filename, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
}

// Defaults fill in omitted worker request fields.
type Defaults struct {
	BatchSize int
	WorkerID  string
}

// Handlers holds the HTTP handlers for every exposed operation.
type Handlers struct {
	Deadlines  DeadlineService
	Scheduler  ReminderScheduler
	Drainer    ReminderDrainer
	Dispatcher MessageDispatcher
	Consent    ConsentGate
	Receipts   ReceiptRecorder
	Proofs     ProofStore
	Defaults   Defaults
	Log        logrus.FieldLogger
}

const maxProofSize = 10 * 1024 * 1024

func (h *Handlers) GenerateDeadlines(c *fiber.Ctx) error {
	res, err := h.Deadlines.GenerateForEntity(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

type markFiledRequest struct {
	ProofRef *string `json:"proofRef"`
}

func (h *Handlers) MarkFiled(c *fiber.Ctx) error {
	ctx := c.UserContext()
	deadlineID := c.Params("id")

	var (
		proofRef *string
		uploaded string
	)
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		key, err := h.uploadProof(c, deadlineID)
		if err != nil {
			return err
		}
		uploaded, proofRef = key, &key
	} else if len(c.Body()) > 0 {
		var req markFiledRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("Invalid request body")
		}
		proofRef = req.ProofRef
	}

	res, err := h.Deadlines.MarkFiled(ctx, deadlineID, proofRef)
	if err != nil || res.AlreadyFiled {
		h.discardProof(ctx, uploaded)
	}
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) uploadProof(c *fiber.Ctx, deadlineID string) (string, error) {
	if h.Proofs == nil {
		return "", badRequest("Proof uploads are not configured")
	}
	file, err := c.FormFile("proof")
	if err != nil {
		return "", badRequest("Proof file is required")
	}
	if file.Size > maxProofSize {
		return "", badRequest("Proof file must be less than 10MB")
	}

	r, err := file.Open()
	if err != nil {
		return "", badRequest("Failed to read proof file")
	}
	defer r.Close()

	return h.Proofs.Put(c.UserContext(), deadlineID, file.Filename, file.Header.Get(fiber.HeaderContentType), r, file.Size)
}

func (h *Handlers) discardProof(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.Proofs.Remove(ctx, key); err != nil {
		h.Log.WithError(err).WithField("object", key).Warn("remove unrecorded proof failed")
	}
}

func (h *Handlers) ScheduleDeadline(c *fiber.Ctx) error {
	res, err := h.Scheduler.ScheduleFor(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

type scheduleManyRequest struct {
	DeadlineIDs []string `json:"deadlineIds"`
}

func (h *Handlers) ScheduleMany(c *fiber.Ctx) error {
	var req scheduleManyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if len(req.DeadlineIDs) == 0 {
		return badRequest("deadlineIds is required")
	}
	for _, id := range req.DeadlineIDs {
		if uuid.Validate(id) != nil {
			return badRequest("Invalid deadline id " + id)
		}
	}
	return c.JSON(fiber.Map{"results": h.Scheduler.ScheduleMany(c.UserContext(), req.DeadlineIDs)})
}

type workerRequest struct {
	BatchSize int    `json:"batchSize"`
	WorkerID  string `json:"workerId"`
}

func (h *Handlers) parseWorkerRequest(c *fiber.Ctx) (workerRequest, error) {
	var req workerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return req, badRequest("Invalid request body")
		}
	}
	if req.BatchSize == 0 {
		req.BatchSize = h.Defaults.BatchSize
	}
	if req.BatchSize < 0 {
		return req, badRequest("batchSize must be positive")
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		req.WorkerID = h.Defaults.WorkerID
	}
	if req.WorkerID == "" {
		if p, ok := CurrentPrincipal(c); ok {
			req.WorkerID = p.Subject
		}
	}
	return req, nil
}

func (h *Handlers) Drain(c *fiber.Ctx) error {
	req, err := h.parseWorkerRequest(c)
	if err != nil {
		return err
	}
	sum, err := h.Drainer.Drain(c.UserContext(), req.BatchSize, req.WorkerID)
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

func (h *Handlers) Dispatch(c *fiber.Ctx) error {
	req, err := h.parseWorkerRequest(c)
	if err != nil {
		return err
	}
	sum, err := h.Dispatcher.Dispatch(c.UserContext(), req.BatchSize, req.WorkerID)
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

type consentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) parseReason(c *fiber.Ctx) (string, error) {
	var req consentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return "", badRequest("Invalid request body")
		}
	}
	return req.Reason, nil
}

func (h *Handlers) OptOut(c *fiber.Ctx) error {
	reason, err := h.parseReason(c)
	if err != nil {
		return err
	}
	res, err := h.Consent.OptOut(c.UserContext(), c.Params("id"), reason)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) OptIn(c *fiber.Ctx) error {
	reason, err := h.parseReason(c)
	if err != nil {
		return err
	}
	if err := h.Consent.OptIn(c.UserContext(), c.Params("id"), reason); err != nil {
		return err
	}
	return c.JSON(fiber.Map{})
}

func (h *Handlers) Eligibility(c *fiber.Ctx) error {
	ok, err := h.Consent.IsEligible(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"eligible": ok})
}

func (h *Handlers) Receipt(c *fiber.Ctx) error {
	var rc outbox.Receipt
	if err := c.BodyParser(&rc); err != nil {
		return badRequest("Invalid request body")
	}
	res, err := h.Receipts.Record(c.UserContext(), rc)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
