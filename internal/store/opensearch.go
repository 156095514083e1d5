package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/models"
)

// Archive indexes finalized correlations into OpenSearch so the hub's search
// surface can join them against raw events. It is a secondary index: archive
// failures must never fail the primary append, so callers log and continue.
type Archive struct {
	client *opensearch.Client
	prefix string
}

// NewArchive connects to OpenSearch and verifies the cluster responds.
func NewArchive(cfg config.StorageConfig) (*Archive, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "causeway"
	}
	return &Archive{client: client, prefix: prefix}, nil
}

// Initialize creates the index template for correlation documents.
func (a *Archive) Initialize(ctx context.Context) error {
	template := map[string]interface{}{
		"index_patterns": []string{a.prefix + "-correlations", a.prefix + "-anomalies"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 0,
				"codec":              "best_compression",
			},
			"mappings": correlationMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := a.client.Indices.PutIndexTemplate(
		a.prefix+"-correlations-template",
		bytes.NewReader(body),
		a.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}

	return nil
}

// IndexCorrelation writes one correlation document, keyed by its ID so
// replays overwrite rather than duplicate.
func (a *Archive) IndexCorrelation(ctx context.Context, corr *models.EventCorrelation) error {
	return a.index(ctx, a.prefix+"-correlations", corr.ID, corr)
}

// IndexAnomaly writes one anomaly correlation document.
func (a *Archive) IndexAnomaly(ctx context.Context, corr *models.AnomalyCorrelation) error {
	return a.index(ctx, a.prefix+"-anomalies", corr.ID, corr)
}

func (a *Archive) index(ctx context.Context, indexName, docID string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := a.client.Index(
		indexName,
		bytes.NewReader(data),
		a.client.Index.WithDocumentID(docID),
		a.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to index document: %s - %s", res.Status(), string(bodyBytes))
	}

	return nil
}

func correlationMappings() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"id":          map[string]interface{}{"type": "keyword"},
			"type":        map[string]interface{}{"type": "keyword"},
			"pattern":     map[string]interface{}{"type": "keyword"},
			"strength":    map[string]interface{}{"type": "float"},
			"confidence":  map[string]interface{}{"type": "float"},
			"window_start": map[string]interface{}{
				"type": "date",
			},
			"window_end": map[string]interface{}{
				"type": "date",
			},
			"detected_at": map[string]interface{}{
				"type": "date",
			},
			"events": map[string]interface{}{
				"properties": map[string]interface{}{
					"role": map[string]interface{}{"type": "keyword"},
					"event": map[string]interface{}{
						"properties": map[string]interface{}{
							"event_id":  map[string]interface{}{"type": "keyword"},
							"source":    map[string]interface{}{"type": "keyword"},
							"type":      map[string]interface{}{"type": "keyword"},
							"severity":  map[string]interface{}{"type": "keyword"},
							"timestamp": map[string]interface{}{"type": "date"},
						},
					},
				},
			},
			"impact": map[string]interface{}{
				"properties": map[string]interface{}{
					"overall": map[string]interface{}{"type": "keyword"},
				},
			},
		},
	}
}
