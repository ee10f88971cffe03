// Package classify maps raw failures from providers, storage and the
// pipeline itself into typed, severity-ranked DocumentError values.
package classify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/breaker"
)

// Context carries what is known about the document when the failure happened.
type Context struct {
	DocumentID string
	FileName   string
	FileSize   int64
	Operation  string // e.g. "ocr", "upload", "analysis"
}

// Config bounds the structural checks the classifier applies before
// looking at the error message.
type Config struct {
	MaxFileSize   int64    // bytes; 0 disables the check
	AcceptedTypes []string // lowercase extensions without dot, e.g. "pdf", "png"
}

// DefaultConfig matches the upload limits enforced at the edge.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   20 << 20,
		AcceptedTypes: []string{"pdf", "png", "jpg", "jpeg", "webp", "txt", "xml"},
	}
}

// Classifier turns raw errors into DocumentError values using an ordered
// first-match policy. It is stateless and safe for concurrent use.
type Classifier struct {
	cfg      Config
	accepted map[string]bool
}

func New(cfg Config) *Classifier {
	accepted := make(map[string]bool, len(cfg.AcceptedTypes))
	for _, t := range cfg.AcceptedTypes {
		accepted[strings.ToLower(t)] = true
	}
	return &Classifier{cfg: cfg, accepted: accepted}
}

// Message patterns checked in order. First match wins.
var (
	rateLimitPatterns = []string{
		"rate limit",
		"too many requests",
		"429",
		"quota exceeded",
		"daily request count exceeded",
		"requests per minute",
	}
	timeoutPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"context deadline",
	}
	networkPatterns = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network",
		"unreachable",
		"broken pipe",
		"eof",
		"circuit breaker",
	}
	noTextPatterns = []string{
		"no text",
		"empty text",
		"no usable text",
		"ocr failed",
		"unreadable",
	}
	analysisPatterns = []string{
		"analysis failed",
		"invalid response",
		"malformed",
		"parse response",
		"no choices",
	}
	creditPatterns = []string{
		"insufficient credits",
		"insufficient_quota",
		"billing",
		"payment required",
		"plan limit",
		"402",
	}
)

// Classify maps err plus context into a DocumentError. Already-classified
// errors pass through untouched so retry layers never re-wrap them.
func (c *Classifier) Classify(err error, cctx Context) *domain.DocumentError {
	return c.ClassifyAttempt(err, cctx, 1)
}

// ClassifyAttempt is Classify with the retry attempt number, used to scale
// the suggested delay for rate-limited calls.
func (c *Classifier) ClassifyAttempt(err error, cctx Context, attempt int) *domain.DocumentError {
	if err == nil {
		return nil
	}

	var docErr *domain.DocumentError
	if errors.As(err, &docErr) {
		return docErr
	}

	msg := strings.ToLower(err.Error())
	details := fmt.Sprintf("%s (%s): %v", cctx.Operation, cctx.FileName, err)

	// A circuit-open rejection means the dependency was not even called.
	// It stays distinguishable from the dependency's own failures through
	// Unwrap, and the remaining cooldown becomes the suggested delay.
	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		return domain.NewDocumentError(
			domain.ErrorKindNetwork, domain.SeverityMedium,
			"O serviço de leitura está temporariamente indisponível.",
			details, true, err,
		).WithRetryDelay(openErr.RetryAfter).
			WithSuggestions("Aguarde alguns instantes e tente novamente")
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(details, err)

	case matchAny(msg, rateLimitPatterns):
		if attempt < 1 {
			attempt = 1
		}
		return domain.NewDocumentError(
			domain.ErrorKindRateLimit, domain.SeverityMedium,
			"O serviço de leitura está ocupado. Vamos tentar novamente em instantes.",
			details, true, err,
		).WithRetryDelay(time.Duration(attempt) * 10 * time.Second).
			WithSuggestions(
				"Aguarde alguns segundos antes de reenviar",
				"Processe menos documentos ao mesmo tempo",
			)

	case matchAny(msg, timeoutPatterns):
		return timeoutError(details, err)

	case matchAny(msg, networkPatterns):
		return domain.NewDocumentError(
			domain.ErrorKindNetwork, domain.SeverityMedium,
			"Falha de conexão com o serviço de leitura.",
			details, true, err,
		).WithSuggestions(
			"Verifique sua conexão com a internet",
			"Tente novamente em alguns instantes",
		)

	// Structural checks: retrying an oversized or unsupported file cannot
	// change the outcome, so these are terminal.
	case c.cfg.MaxFileSize > 0 && cctx.FileSize > c.cfg.MaxFileSize:
		return fileTooLarge(cctx, c.cfg.MaxFileSize, err)

	case cctx.FileName != "" && !c.typeAccepted(cctx.FileName):
		return invalidFileType(cctx, err)

	case matchAny(msg, noTextPatterns):
		return domain.NewDocumentError(
			domain.ErrorKindOCRFailed, domain.SeverityHigh,
			"Não foi possível ler o texto deste documento.",
			details, true, err,
		).WithSuggestions(
			"Envie uma imagem mais nítida do documento",
			"Verifique se o documento não está cortado ou borrado",
			"Tente digitalizar em resolução maior",
		)

	case matchAny(msg, analysisPatterns):
		return domain.NewDocumentError(
			domain.ErrorKindAIAnalysisFailed, domain.SeverityHigh,
			"O documento foi lido mas a análise automática falhou.",
			details, true, err,
		).WithSuggestions(
			"Tente processar o documento novamente",
			"Se persistir, classifique o documento manualmente",
		)

	case matchAny(msg, creditPatterns):
		return domain.NewDocumentError(
			domain.ErrorKindInsufficientCredits, domain.SeverityCritical,
			"Os créditos de processamento do seu plano acabaram.",
			details, false, err,
		).WithSuggestions(
			"Faça upgrade do seu plano",
			"Aguarde a renovação mensal dos créditos",
		)
	}

	return domain.NewDocumentError(
		domain.ErrorKindUnknown, domain.SeverityHigh,
		"Ocorreu um erro inesperado ao processar o documento.",
		details, false, err,
	).WithSuggestions(
		"Tente novamente",
		"Se o problema persistir, contate o suporte",
	)
}

// InvalidFile builds the terminal INVALID_FILE_TYPE error directly, for
// failures detected before any provider is involved (e.g. empty payloads).
func (c *Classifier) InvalidFile(cctx Context, cause error) *domain.DocumentError {
	return invalidFileType(cctx, cause)
}

func (c *Classifier) typeAccepted(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		// No extension carries no type information; let content sniffing
		// in the pipeline decide instead.
		return true
	}
	return c.accepted[ext]
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func timeoutError(details string, cause error) *domain.DocumentError {
	return domain.NewDocumentError(
		domain.ErrorKindTimeout, domain.SeverityMedium,
		"O processamento demorou mais que o esperado.",
		details, true, cause,
	).WithSuggestions(
		"Tente novamente",
		"Documentos grandes podem demorar mais para processar",
	)
}

func fileTooLarge(cctx Context, max int64, cause error) *domain.DocumentError {
	details := fmt.Sprintf("%s: %d bytes exceeds limit of %d", cctx.FileName, cctx.FileSize, max)
	return domain.NewDocumentError(
		domain.ErrorKindFileTooLarge, domain.SeverityLow,
		fmt.Sprintf("O arquivo excede o tamanho máximo de %dMB.", max>>20),
		details, false, cause,
	).WithSuggestions(
		"Comprima o arquivo antes de enviar",
		"Divida o documento em partes menores",
	)
}

func invalidFileType(cctx Context, cause error) *domain.DocumentError {
	details := fmt.Sprintf("unsupported file type: %s", cctx.FileName)
	return domain.NewDocumentError(
		domain.ErrorKindInvalidFileType, domain.SeverityLow,
		"Este tipo de arquivo não é aceito.",
		details, false, cause,
	).WithSuggestions(
		"Envie o documento em PDF, PNG ou JPG",
	)
}
