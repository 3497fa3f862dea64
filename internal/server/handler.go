package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"applyforge/internal/errors"
	"applyforge/internal/extract"
	"applyforge/internal/observability"
	"applyforge/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

// createAnalyzeHandler wraps the full pipeline run with observability
func (s *Server) createAnalyzeHandler(om *observability.ObservabilityManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := om.Tracer("applyforge.api")
		ctx, span := tracer.Start(ctx, "api.analyze")
		defer span.End()

		// Parse request
		var req types.AnalyzeRequest
		if err := parseJSONRequest(r, &req); err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
			return
		}

		// Validation; the job description is optional and selects an
		// analysis-only run when absent
		if strings.TrimSpace(req.ResumeText) == "" {
			err := fmt.Errorf("missing resume text")
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Missing resume text", "resumeText field is required", http.StatusBadRequest)
			return
		}

		// Size validation
		if len(req.ResumeText) > int(s.MaxRequestSize/2) {
			err := fmt.Errorf("resume text too large: %d chars", len(req.ResumeText))
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Resume text too large", fmt.Sprintf("resumeText exceeds recommended size limit of %d characters", s.MaxRequestSize/2), http.StatusBadRequest)
			return
		}
		if len(req.JobDescription) > int(s.MaxRequestSize/2) {
			err := fmt.Errorf("job description too large: %d chars", len(req.JobDescription))
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Job description too large", fmt.Sprintf("jobDescription exceeds recommended size limit of %d characters", s.MaxRequestSize/2), http.StatusBadRequest)
			return
		}

		// Add request attributes to span
		span.SetAttributes(
			attribute.Int("request.resume_length", len(req.ResumeText)),
			attribute.Int("request.job_length", len(req.JobDescription)),
			attribute.String("operation", "analyze"),
		)

		// The runner tracks per-task AI operations and business metrics itself
		result, err := s.Runner.RunFullAnalysis(ctx, req.ResumeText, req.JobDescription)
		if err != nil {
			span.RecordError(err)
			if errors.HasCode(err, errors.ErrCodeValidationFailed) {
				span.SetAttributes(attribute.String("error.type", "validation"))
				writeErrorResponse(w, "Validation failed", err.Error(), http.StatusBadRequest)
				return
			}
			span.SetAttributes(attribute.String("error.type", "pipeline"))
			writeErrorResponse(w, "Failed to analyze resume", err.Error(), http.StatusInternalServerError)
			return
		}

		span.SetAttributes(
			attribute.Bool("success", true),
			attribute.Bool("response.customized_resume_present", result.CustomizedResume != ""),
			attribute.Bool("response.cover_letter_present", result.CoverLetter != ""),
		)

		writeJSONResponse(w, span, result)
	}
}

// createCoverLetterHandler wraps the cover-letter-only run with observability
func (s *Server) createCoverLetterHandler(om *observability.ObservabilityManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := om.Tracer("applyforge.api")
		ctx, span := tracer.Start(ctx, "api.cover_letter")
		defer span.End()

		var req types.CoverLetterRequest
		if err := parseJSONRequest(r, &req); err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
			return
		}

		// Validation
		if strings.TrimSpace(req.ResumeText) == "" {
			err := fmt.Errorf("missing resume text")
			span.RecordError(err)
			writeErrorResponse(w, "Missing resume text", "resumeText field is required", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.JobDescription) == "" {
			err := fmt.Errorf("missing job description")
			span.RecordError(err)
			writeErrorResponse(w, "Missing job description", "jobDescription field is required", http.StatusBadRequest)
			return
		}

		span.SetAttributes(
			attribute.Int("request.resume_length", len(req.ResumeText)),
			attribute.Int("request.job_length", len(req.JobDescription)),
			attribute.Bool("request.has_previous", req.PreviousResult != nil),
			attribute.String("operation", "cover_letter"),
		)

		result, err := s.Runner.RunCoverLetterOnly(ctx, req.ResumeText, req.JobDescription, req.PreviousResult)
		if err != nil {
			span.RecordError(err)
			if errors.HasCode(err, errors.ErrCodeValidationFailed) {
				span.SetAttributes(attribute.String("error.type", "validation"))
				writeErrorResponse(w, "Validation failed", err.Error(), http.StatusBadRequest)
				return
			}
			span.SetAttributes(attribute.String("error.type", "pipeline"))
			writeErrorResponse(w, "Failed to generate cover letter", err.Error(), http.StatusInternalServerError)
			return
		}

		span.SetAttributes(
			attribute.Bool("success", true),
			attribute.Int("response.cover_letter_length", len(result.CoverLetter)),
		)

		writeJSONResponse(w, span, result)
	}
}

// createExtractHandler accepts a PDF document as a raw body or multipart form
// field and returns the extraction report
func (s *Server) createExtractHandler(om *observability.ObservabilityManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := om.Tracer("applyforge.api")
		ctx, span := tracer.Start(ctx, "api.extract")
		defer span.End()

		doc, err := readDocumentRequest(r)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			writeErrorResponse(w, "Invalid document upload", err.Error(), http.StatusBadRequest)
			return
		}

		span.SetAttributes(
			attribute.Int("request.document_bytes", len(doc.Data)),
			attribute.String("operation", "extract"),
		)

		extraction, err := s.Runner.ExtractDocument(ctx, doc)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "extraction"))
			writeErrorResponse(w, "Failed to extract document", err.Error(), http.StatusBadRequest)
			return
		}

		span.SetAttributes(
			attribute.Bool("success", true),
			attribute.Int("response.page_count", extraction.PageCount),
			attribute.Int("response.text_length", len(extraction.Text)),
		)

		writeJSONResponse(w, span, extraction)
	}
}

// readDocumentRequest builds the extraction input from either a raw
// application/pdf body or a multipart form with a "document" file field.
// The request body is already capped by the request size middleware.
func readDocumentRequest(r *http.Request) (extract.Document, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("document")
		if err != nil {
			return extract.Document{}, fmt.Errorf("missing multipart file field \"document\": %w", err)
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			return extract.Document{}, fmt.Errorf("failed to read uploaded document: %w", err)
		}

		partType := header.Header.Get("Content-Type")
		if partType == "" {
			partType = "application/pdf"
		}

		return extract.Document{
			Data:        data,
			ContentType: partType,
			Filename:    header.Filename,
			Size:        int64(len(data)),
		}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return extract.Document{}, fmt.Errorf("failed to read request body: %w", err)
	}

	return extract.Document{
		Data:        data,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// createRateLimitMiddleware adds a rate_limit_hit metric on top of the
// plain rate limiting middleware. The ResponseWriter is wrapped outside
// the limiter so the 429 the limiter writes is visible to the wrapper.
func (s *Server) createRateLimitMiddleware(om *observability.ObservabilityManager) func(http.HandlerFunc) http.HandlerFunc {
	limit := s.rateLimitMiddleware()

	return func(next http.HandlerFunc) http.HandlerFunc {
		limited := limit(next)

		return func(w http.ResponseWriter, r *http.Request) {
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}

			limited(wrapper, r)

			if wrapper.statusCode == http.StatusTooManyRequests {
				metrics := om.GetMetrics()
				metrics.RecordBusinessMetric(r.Context(), "rate_limit_hit", true, om,
					attribute.String("endpoint", r.URL.Path),
					attribute.String("method", r.Method))
			}
		}
	}
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
