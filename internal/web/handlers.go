package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/JonMunkholm/csvreport/internal/logging"
	"github.com/JonMunkholm/csvreport/internal/report"
)

const (
	fieldFile  = "arquivo"
	fieldEmail = "email_destino"

	// multipartOverhead is the slack allowed on top of the file size for
	// boundaries, part headers and the email field.
	multipartOverhead = 1 << 20
)

// SendReportResponse is the body of a successful upload.
type SendReportResponse struct {
	Message  string `json:"mensagem"`
	Filename string `json:"arquivo_processado"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "API de Processamento CSV e Envio de Relatório por Email",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSendReport reads the uploaded CSV, builds the report and mails it to
// email_destino. Processing is synchronous: the response is sent only after
// the SMTP session ends.
func (s *Server) handleSendReport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, err, http.StatusRequestEntityTooLarge, tooLargeDetail(maxSize))
			return
		}
		respondError(w, r, err, http.StatusUnprocessableEntity,
			fmt.Sprintf("Formulário inválido: campos obrigatórios %q e %q", fieldFile, fieldEmail))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		respondError(w, r, err, http.StatusUnprocessableEntity, missingFieldDetail(fieldFile))
		return
	}
	defer file.Close()

	rawEmail := r.FormValue(fieldEmail)
	if strings.TrimSpace(rawEmail) == "" {
		respondError(w, r, nil, http.StatusUnprocessableEntity, missingFieldDetail(fieldEmail))
		return
	}
	email, err := parseRecipient(rawEmail)
	if err != nil {
		respondError(w, r, err, http.StatusUnprocessableEntity,
			fmt.Sprintf("Email de destino inválido: %q", rawEmail))
		return
	}

	if !strings.HasSuffix(header.Filename, ".csv") {
		respondError(w, r, nil, http.StatusBadRequest, "Apenas arquivos CSV são aceitos")
		return
	}
	if header.Size == 0 {
		respondError(w, r, nil, http.StatusBadRequest, "Arquivo está vazio")
		return
	}
	if header.Size > maxSize {
		respondError(w, r, nil, http.StatusRequestEntityTooLarge, tooLargeDetail(maxSize))
		return
	}

	ctx := r.Context()
	logger := logging.WithFields(ctx, "filename", header.Filename, "to", email)

	if err := s.jobs.acquire(ctx); err != nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, r, err, http.StatusServiceUnavailable, "Servidor ocupado. Tente novamente em instantes")
		return
	}
	defer s.jobs.release()

	logger.Info("processing file", "size", header.Size, "active_jobs", s.jobs.activeCount())

	data, err := io.ReadAll(file)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	if len(data) == 0 {
		respondError(w, r, nil, http.StatusBadRequest, "Arquivo está vazio")
		return
	}

	text, err := report.Generate(ctx, data)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	if err := s.sender.SendReport(ctx, email, text); err != nil {
		respondInternal(w, r, err)
		return
	}

	logger.Info("report sent")
	writeJSON(w, http.StatusOK, SendReportResponse{
		Message:  fmt.Sprintf("Relatório enviado com sucesso para %s", email),
		Filename: header.Filename,
	})
}

// parseRecipient accepts a bare address (no display name) whose domain has
// at least one dot.
func parseRecipient(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	if addr.Name != "" || addr.Address != raw {
		return "", errors.New("display names are not accepted")
	}
	at := strings.LastIndexByte(addr.Address, '@')
	domain := addr.Address[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("domain %q is not fully qualified", domain)
	}
	return addr.Address, nil
}

func missingFieldDetail(field string) string {
	return fmt.Sprintf("Campo obrigatório ausente: %s", field)
}

func tooLargeDetail(limit int64) string {
	return fmt.Sprintf("Arquivo excede o tamanho máximo de %d bytes", limit)
}
