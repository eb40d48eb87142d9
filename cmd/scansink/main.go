package main

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scoutware/scanrelay/internal/parser"
	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// scansink is a development stand-in for the remote aggregation endpoint.
// It accepts the relay's form-encoded deliveries and appends them to a CSV
// file: jsonCols is the authoritative payload, raw the fallback when
// jsonCols is missing or corrupt.

type sink struct {
	path   string
	sch    *schema.Schema
	parser *parser.Parser
	mu     sync.Mutex
	logger *logger.Logger
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	out := flag.String("out", "scans.csv", "CSV output file")
	fields := flag.String("fields", "", "comma-separated metric columns overriding the defaults")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := run(*addr, *out, *fields, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "scansink: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, out, fields, logLevel string) error {
	log, err := logger.New(logger.Config{Level: logLevel, Format: "console"})
	if err != nil {
		return err
	}
	defer log.Sync()

	sch := schema.Default()
	if fields != "" {
		if sch, err = schema.New(strings.Split(fields, ",")); err != nil {
			return fmt.Errorf("invalid -fields: %w", err)
		}
	}

	s := &sink{
		path:   out,
		sch:    sch,
		parser: parser.New(sch, nil),
		logger: log.Named("scansink"),
	}

	router := chi.NewRouter()
	router.Post("/", s.handleReceive)
	router.Post("/submit", s.handleReceive)

	server := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Receiving scans", logger.String("addr", addr), logger.String("out", out))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// handleReceive appends one delivered scan to the CSV file.
func (s *sink) handleReceive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	timestamp := r.PostFormValue("timestamp")
	raw := r.PostFormValue("raw")

	values, err := decodeColumns(r.PostFormValue("jsonCols"))
	if err != nil {
		// Fall back to the human-readable copy.
		s.logger.Debug("Falling back to raw field", logger.Error(err))
		values = s.fallbackValues(raw)
	}

	if err := s.writeRow(timestamp, values); err != nil {
		s.logger.Error("Failed to write CSV row", logger.Error(err))
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Scan received", logger.String("timestamp", timestamp))
	w.WriteHeader(http.StatusOK)
}

// decodeColumns unpacks jsonCols: base64 of a UTF-8 JSON array of the
// ordered schema values.
func decodeColumns(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, fmt.Errorf("jsonCols missing")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("jsonCols is not base64: %w", err)
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("jsonCols is not a JSON array: %w", err)
	}
	return values, nil
}

// fallbackValues reconstructs the columns from the raw field. When the
// token count exceeds the schema arity, the tokens get the same
// continuation repair the sender applies, and whatever still overflows
// folds into the final column.
func (s *sink) fallbackValues(raw string) []string {
	tokens := strings.Fields(raw)
	arity := s.sch.Arity()

	if len(tokens) > arity {
		tokens = s.parser.Repair(tokens)
	}

	values := make([]string, arity)
	for i := 0; i < arity && i < len(tokens); i++ {
		if i == arity-1 {
			values[i] = strings.Join(tokens[i:], " ")
			break
		}
		values[i] = tokens[i]
	}
	return values
}

// writeRow appends one CSV row, writing the header first when the file is
// new.
func (s *sink) writeRow(timestamp string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		header := append([]string{"timestamp"}, s.sch.Fields()...)
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	row := append([]string{timestamp}, values...)
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	writer.Flush()
	return writer.Error()
}
