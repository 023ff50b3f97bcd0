// Package handler exposes the settlement processing REST endpoints: file
// upload, status polling, report download, and health.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/job"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/report"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
	"github.com/FACorreiaa/settlement-tracker/pkg/observability"
)

// DefaultMaxUploadBytes caps upload request bodies at 1 GiB.
const DefaultMaxUploadBytes int64 = 1 << 30

// validPaymentModes is the set of channels accepted on upload. PERALINK files
// are parseable but are not offered on this surface.
var validPaymentModes = map[string]struct{}{
	settlement.ChannelBDO:       {},
	settlement.ChannelCebuana:   {},
	settlement.ChannelChinabank: {},
	settlement.ChannelECPay:     {},
	settlement.ChannelMetrobank: {},
	settlement.ChannelUnionBank: {},
	settlement.ChannelSM:        {},
	settlement.ChannelPNB:       {},
	settlement.ChannelCIS:       {},
	settlement.ChannelBancnet:   {},
	settlement.ChannelROB:       {},
}

// JobHandler serves the processing API backed by the job coordinator.
type JobHandler struct {
	coordinator *job.Coordinator
	builder     *report.Builder
	uploadDir   string
	maxUpload   int64
	logger      *slog.Logger
}

// NewJobHandler constructs a new handler. maxUpload falls back to
// DefaultMaxUploadBytes when zero or negative.
func NewJobHandler(coordinator *job.Coordinator, builder *report.Builder, uploadDir string, maxUpload int64, logger *slog.Logger) *JobHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &JobHandler{
		coordinator: coordinator,
		builder:     builder,
		uploadDir:   uploadDir,
		maxUpload:   maxUpload,
		logger:      logger,
	}
}

// groupPayload is the wire form of one reference group, shared by the status
// response and the report request.
type groupPayload struct {
	TransactionCount int      `json:"transaction_count"`
	TotalAmount      float64  `json:"total_amount"`
	PaymentMode      string   `json:"payment_mode"`
	Dates            []string `json:"dates"`
	RawContents      []string `json:"raw_contents"`
}

type summaryPayload struct {
	TotalAmount       float64 `json:"total_amount"`
	TotalTransactions int     `json:"total_transactions"`
}

// UploadFile accepts a multipart settlement file and queues it for
// processing. The response carries the processing id to poll.
func (h *JobHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds maximum upload size of %d bytes", h.maxUpload))
		case errors.Is(err, http.ErrMissingFile):
			h.writeError(w, http.StatusBadRequest, "No file part")
		default:
			h.writeError(w, http.StatusBadRequest, "No file part")
		}
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			h.logger.Warn("failed to close upload part", slog.Any("error", err))
		}
	}()

	if header.Filename == "" {
		h.writeError(w, http.StatusBadRequest, "No selected file")
		return
	}

	paymentMode := r.FormValue("payment_mode")
	if paymentMode == "" {
		h.writeError(w, http.StatusBadRequest, "No payment mode selected")
		return
	}

	area := r.FormValue("area")
	if area == "" {
		h.writeError(w, http.StatusBadRequest, "No area selected")
		return
	}

	channelID := settlement.Canonical(paymentMode)
	if _, ok := validPaymentModes[channelID]; !ok {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid payment mode: %s", paymentMode))
		return
	}
	if !settlement.ValidArea(area) {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid area: %s", area))
		return
	}

	originalName := filepath.Base(header.Filename)
	path, err := h.saveUpload(file, originalName, area)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds maximum upload size of %d bytes", h.maxUpload))
			return
		}
		h.logger.Error("failed to store upload", slog.String("filename", originalName), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}

	id, err := h.coordinator.Submit(job.Request{
		Channel:      channelID,
		Area:         area,
		UploadPath:   path,
		OriginalName: originalName,
	})
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			h.logger.Warn("failed to remove rejected upload", slog.String("path", path), slog.Any("error", removeErr))
		}
		switch {
		case errors.Is(err, settlement.ErrUnknownChannel):
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid payment mode: %s", paymentMode))
		case errors.Is(err, settlement.ErrInvalidArea):
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid area: %s", area))
		case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrShuttingDown):
			h.writeError(w, http.StatusServiceUnavailable, "Server is busy, try again later")
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	observability.UploadsTotal.WithLabelValues(channelID, area).Inc()
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message":       "File uploaded successfully",
		"processing_id": id.String(),
	})
}

// saveUpload copies the multipart part into the upload directory. The stored
// name keeps the original base and area but gets a unique infix so two
// concurrent uploads of the same file never share a path.
func (h *JobHandler) saveUpload(file io.Reader, originalName, area string) (string, error) {
	ext := filepath.Ext(originalName)
	base := strings.TrimSuffix(originalName, ext)

	dst, err := os.CreateTemp(h.uploadDir, fmt.Sprintf("%s_%s_*%s", base, area, ext))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}
	return dst.Name(), nil
}

// ProcessingStatus reports a job's state. Completed jobs carry the grouped
// result, run-level raw lines, the channel separator, and run totals.
func (h *JobHandler) ProcessingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Processing ID not found")
		return
	}

	snap, ok := h.coordinator.Status(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Processing ID not found")
		return
	}

	switch snap.Status {
	case job.StatusCompleted:
		h.writeJSON(w, http.StatusOK, h.completedPayload(snap))
	case job.StatusError:
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": string(job.StatusError),
			"error":  snap.Error,
		})
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"status":   string(snap.Status),
			"progress": snap.Progress,
		})
	}
}

func (h *JobHandler) completedPayload(snap *job.Snapshot) map[string]any {
	agg := snap.Result.Aggregation

	processed := make(map[string]groupPayload, agg.Len())
	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		processed[ref] = groupPayload{
			TransactionCount: g.Count,
			TotalAmount:      pesos(g.TotalCents),
			PaymentMode:      g.Channel,
			Dates:            g.Dates(),
			RawContents:      g.RawLines,
		}
	}

	return map[string]any{
		"status":         string(job.StatusCompleted),
		"progress":       100,
		"processed_data": processed,
		"raw_contents":   agg.RawLines,
		"separator":      snap.Result.Separator,
		"summary": summaryPayload{
			TotalAmount:       pesos(agg.TotalCents()),
			TotalTransactions: agg.TotalCount(),
		},
	}
}

// GenerateReport builds the downloadable archive from the grouped data the
// client got from the status endpoint.
func (h *JobHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessedData    json.RawMessage `json:"processed_data"`
		RawContents      []string        `json:"raw_contents"`
		OriginalFilename string          `json:"original_filename"`
		Area             string          `json:"area"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Invalid data format received")
		return
	}

	groups, err := decodeGroups(req.ProcessedData)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Invalid data format received")
		return
	}

	arch, err := h.builder.Build(r.Context(), report.Input{
		Groups:   groups,
		BaseName: req.OriginalFilename,
		Area:     req.Area,
	})
	if err != nil {
		h.logger.Error("failed to build report", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", arch.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(arch.Data); err != nil {
		h.logger.Error("failed to write archive response", slog.Any("error", err))
	}
}

// decodeGroups parses the processed_data object while preserving its key
// order, so archive entries and summary rows come out in the order the
// client displayed them.
func decodeGroups(raw json.RawMessage) ([]report.Group, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("processed_data is not an object")
	}

	var groups []report.Group
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		ref, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("processed_data key is not a string")
		}

		var p groupPayload
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
		groups = append(groups, report.Group{
			Reference:  ref,
			Count:      p.TransactionCount,
			TotalCents: int64(math.Round(p.TotalAmount * 100)),
			Channel:    p.PaymentMode,
			Dates:      p.Dates,
			RawLines:   p.RawContents,
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return groups, nil
}

// Health reports service liveness.
func (h *JobHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func pesos(cents int64) float64 {
	return float64(cents) / 100
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *JobHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
