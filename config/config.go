package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DatabaseConfig
	RegistryConfig
	PipelineConfig
	ExportConfig

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
}

// DatabaseConfig beschreibt die PostgreSQL-Verbindung.
type DatabaseConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
}

// RegistryConfig bündelt die Endpunkte und Limits der bibliographischen Register.
type RegistryConfig struct {
	DOIBaseURL      string `envconfig:"DOI_BASE_URL" default:"https://doi.org"`
	CrossrefBaseURL string `envconfig:"CROSSREF_BASE_URL" default:"https://api.crossref.org"`
	CrossrefMailto  string `envconfig:"CROSSREF_MAILTO"`

	PubMedBaseURL string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey  string `envconfig:"PUBMED_API_KEY"`
	PubMedEmail   string `envconfig:"PUBMED_EMAIL"`
	PubMedTool    string `envconfig:"PUBMED_TOOL" default:"cite-guard"`

	EuropePMCBaseURL string `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`

	// pubmed oder europepmc
	PMIDRegistry string `envconfig:"PMID_REGISTRY" default:"pubmed"`

	RegistryTimeout    time.Duration `envconfig:"REGISTRY_TIMEOUT" default:"10s"`
	RegistryMaxRetries int           `envconfig:"REGISTRY_MAX_RETRIES" default:"3"`
	RegistryRetryBase  time.Duration `envconfig:"REGISTRY_RETRY_BASE" default:"1s"`
}

// PipelineConfig steuert Ingestion, Checkpoint und den nächtlichen Sweep.
type PipelineConfig struct {
	TrailerMarker         string        `envconfig:"TRAILER_MARKER" default:"---BIBTEX---"`
	CheckpointBudget      time.Duration `envconfig:"CHECKPOINT_BUDGET" default:"60s"`
	CheckpointCallTimeout time.Duration `envconfig:"CHECKPOINT_CALL_TIMEOUT" default:"8s"`

	SweepEnabled  bool   `envconfig:"SWEEP_ENABLED" default:"false"`
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"0 3 * * *"`
}

// ExportConfig ist optional; ohne Bucket wird der Export inline ausgeliefert.
type ExportConfig struct {
	ExportS3Key    string `envconfig:"EXPORT_S3_KEY"`
	ExportS3Secret string `envconfig:"EXPORT_S3_SECRET"`
	ExportS3URL    string `envconfig:"EXPORT_S3_URL"`
	ExportS3Region string `envconfig:"EXPORT_S3_REGION" default:"eu-central-1"`
	ExportS3Bucket string `envconfig:"EXPORT_S3_BUCKET"`
}

// S3Enabled meldet, ob ein Export-Bucket konfiguriert ist.
func (e ExportConfig) S3Enabled() bool {
	return e.ExportS3Bucket != "" && e.ExportS3URL != ""
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}

// LoadRegistry lädt nur die Register-Konfiguration, z.B. für das CLI ohne Datenbank.
func LoadRegistry() (*RegistryConfig, error) {
	_ = godotenv.Load()
	var c RegistryConfig
	err := envconfig.Process("", &c)
	return &c, err
}

// DefaultRegistry liefert die Standardwerte ohne Umgebungsvariablen.
func DefaultRegistry() RegistryConfig {
	return RegistryConfig{
		DOIBaseURL:         "https://doi.org",
		CrossrefBaseURL:    "https://api.crossref.org",
		PubMedBaseURL:      "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		PubMedTool:         "cite-guard",
		EuropePMCBaseURL:   "https://www.ebi.ac.uk/europepmc/webservices/rest",
		PMIDRegistry:       "pubmed",
		RegistryTimeout:    10 * time.Second,
		RegistryMaxRetries: 3,
		RegistryRetryBase:  time.Second,
	}
}
