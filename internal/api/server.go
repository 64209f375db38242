// Package api provides the operational HTTP surface of the invoice sync service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/invoice-sync/internal/job"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/service"
	"github.com/invoice-sync/internal/types"
)

// Service interfaces for dependency injection and testing

// SyncJobServiceInterface defines the sync job operations exposed over HTTP
type SyncJobServiceInterface interface {
	Start(ctx context.Context, companyID string, direction types.Direction, yearsBack int) (*models.SyncJob, error)
	Tick(ctx context.Context, jobID string) (*models.SyncJob, error)
	Cancel(ctx context.Context, jobID string) (*models.SyncJob, error)
	GetProgress(ctx context.Context, jobID string) (*job.JobProgress, error)
	ListByCompany(ctx context.Context, companyID string, limit int) ([]*models.SyncJob, error)
	State(ctx context.Context, companyID string) (*job.SyncState, error)
}

// InvoiceServiceInterface defines the reconciliation operations exposed over HTTP
type InvoiceServiceInterface interface {
	Upsert(ctx context.Context, records []models.RemoteInvoiceRecord) (*models.UpsertResult, error)
	EnrichIncomplete(ctx context.Context, companyID string) (int, error)
	Approve(ctx context.Context, companyID, remoteID string) (*models.StoredInvoice, error)
	Reject(ctx context.Context, companyID, remoteID, comment string) (*models.StoredInvoice, error)
	CancelSales(ctx context.Context, companyID, remoteID, comment string) (*models.StoredInvoice, error)
	ImportToLedger(ctx context.Context, invoice *models.StoredInvoice) (string, error)
	BulkImportByIDs(ctx context.Context, companyID string, ids []string) *models.ImportBatch
	SyncMissingLedgerEntries(ctx context.Context, companyID string) (int, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.StoredInvoice, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]*models.StoredInvoice, int, error)
	Document(ctx context.Context, companyID, remoteID string) ([]byte, error)
}

// ImportServiceInterface defines the file import operations exposed over HTTP
type ImportServiceInterface interface {
	ImportXML(ctx context.Context, input service.XMLImportInput, content []byte) *models.ImportBatch
	ImportCSV(ctx context.Context, companyID string, content []byte, clearExisting bool) *models.ImportBatch
	ImportCSVChunk(ctx context.Context, companyID string, rows []service.CSVRow, chunkIndex int, clearExisting bool) *models.ImportBatch
}

// Server represents the HTTP API server.
type Server struct {
	router         *mux.Router
	httpServer     *http.Server
	jobService     SyncJobServiceInterface
	invoiceService InvoiceServiceInterface
	importService  ImportServiceInterface
	config         *ServerConfig
	logger         *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64 // requests per second per company
	RateLimitBurst  int
	WebhookSecret   string // empty disables signature checks
	MaxBodyBytes    int64
}

const defaultMaxBodyBytes = 64 << 20

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	jobService SyncJobServiceInterface,
	invoiceService InvoiceServiceInterface,
	importService ImportServiceInterface,
) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		router:         mux.NewRouter(),
		jobService:     jobService,
		invoiceService: invoiceService,
		importService:  importService,
		config:         config,
		logger:         logging.WithComponent("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// order matters: logging sees the final status, recovery wraps everything below it
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Sync job endpoints
	api.HandleFunc("/companies/{company}/sync/jobs", s.handleStartSyncJob).Methods("POST")
	api.HandleFunc("/companies/{company}/sync/jobs", s.handleListSyncJobs).Methods("GET")
	api.HandleFunc("/companies/{company}/sync/state", s.handleSyncState).Methods("GET")
	api.HandleFunc("/sync/jobs/{id}", s.handleGetSyncJob).Methods("GET")
	api.HandleFunc("/sync/jobs/{id}/tick", s.handleTickSyncJob).Methods("POST")
	api.HandleFunc("/sync/jobs/{id}/cancel", s.handleCancelSyncJob).Methods("POST")

	// Invoice endpoints
	api.HandleFunc("/companies/{company}/invoices", s.handleListInvoices).Methods("GET")
	api.HandleFunc("/companies/{company}/invoices/enrich", s.handleEnrichInvoices).Methods("POST")
	api.HandleFunc("/companies/{company}/invoices/{remoteId}/document", s.handleGetDocument).Methods("GET")
	api.HandleFunc("/companies/{company}/invoices/{remoteId}/approve", s.handleApproveInvoice).Methods("POST")
	api.HandleFunc("/companies/{company}/invoices/{remoteId}/reject", s.handleRejectInvoice).Methods("POST")
	api.HandleFunc("/companies/{company}/invoices/{remoteId}/cancel", s.handleCancelInvoice).Methods("POST")
	api.HandleFunc("/invoices/{id}", s.handleGetInvoice).Methods("GET")
	api.HandleFunc("/invoices/{id}", s.handleDeleteInvoice).Methods("DELETE")

	// Ledger endpoints
	api.HandleFunc("/invoices/{id}/ledger", s.handleImportToLedger).Methods("POST")
	api.HandleFunc("/companies/{company}/ledger/bulk", s.handleBulkImportToLedger).Methods("POST")
	api.HandleFunc("/companies/{company}/ledger/sync-missing", s.handleSyncMissingLedger).Methods("POST")

	// File import endpoints
	api.HandleFunc("/companies/{company}/imports/xml", s.handleImportXML).Methods("POST")
	api.HandleFunc("/companies/{company}/imports/csv", s.handleImportCSV).Methods("POST")

	// Platform push
	api.HandleFunc("/webhooks/platform", s.handlePlatformWebhook).Methods("POST")
}

// Handler returns the configured router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "invoice-sync",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
