// Package search provides access to the target Elasticsearch deployment.
package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/log"
)

// Document is a search document ready for indexing. Body is the document
// source without the identifier field.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Client wraps the Elasticsearch client with the operations the sync needs.
type Client struct {
	es *elasticsearch.Client
}

// Connect creates an Elasticsearch client and verifies the connection.
func Connect(ctx context.Context, cfg *config.TargetConfig) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new client")
	}

	c := &Client{es: es}

	err = c.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Ping verifies the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "info")
	}
	defer closeResponse(res)

	if res.IsError() {
		return errors.Errorf("info: %s", res.Status())
	}

	return nil
}

// Version returns the Elasticsearch server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "info")
	}
	defer closeResponse(res)

	if res.IsError() {
		return "", errors.Errorf("info: %s", res.Status())
	}

	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}

	err = json.NewDecoder(res.Body).Decode(&info)
	if err != nil {
		return "", errors.Wrap(err, "decode info")
	}

	return info.Version.Number, nil
}

// Upsert indexes the document under the given identifier, replacing any
// existing document with the same identifier.
func (c *Client) Upsert(ctx context.Context, index, id string, body json.RawMessage) error {
	res, err := c.es.Index(index, bytesReader(body),
		c.es.Index.WithDocumentID(id),
		c.es.Index.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "index %q", index)
	}
	defer closeResponse(res)

	if res.IsError() {
		return errors.Errorf("index %q doc %q: %s", index, id, responseError(res))
	}

	return nil
}

// Delete removes the document from the index. A missing document or index is
// not an error.
func (c *Client) Delete(ctx context.Context, index, id string) error {
	res, err := c.es.Delete(index, id,
		c.es.Delete.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "delete %q", index)
	}
	defer closeResponse(res)

	if res.StatusCode == http.StatusNotFound {
		return nil
	}

	if res.IsError() {
		return errors.Errorf("delete %q doc %q: %s", index, id, responseError(res))
	}

	return nil
}

// DeleteIndex removes the whole index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	res, err := c.es.Indices.Delete([]string{index},
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
		c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "delete index %q", index)
	}
	defer closeResponse(res)

	if res.IsError() {
		return errors.Errorf("delete index %q: %s", index, responseError(res))
	}

	return nil
}

// Count returns the number of documents in the index. A missing index counts
// as zero.
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithIndex(index),
		c.es.Count.WithContext(ctx))
	if err != nil {
		return 0, errors.Wrapf(err, "count %q", index)
	}
	defer closeResponse(res)

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}

	if res.IsError() {
		return 0, errors.Errorf("count %q: %s", index, responseError(res))
	}

	var body struct {
		Count int64 `json:"count"`
	}

	err = json.NewDecoder(res.Body).Decode(&body)
	if err != nil {
		return 0, errors.Wrap(err, "decode count")
	}

	return body.Count, nil
}

// Refresh makes recent writes visible to search and count.
func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithIndex(index),
		c.es.Indices.Refresh.WithIgnoreUnavailable(true),
		c.es.Indices.Refresh.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "refresh %q", index)
	}
	defer closeResponse(res)

	if res.IsError() {
		return errors.Errorf("refresh %q: %s", index, responseError(res))
	}

	return nil
}

func closeResponse(res *esapi.Response) {
	if res.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, res.Body)

	err := res.Body.Close()
	if err != nil {
		log.New("search").Error(err, "Close response body")
	}
}

// responseError extracts the error description from an error response body.
func responseError(res *esapi.Response) string {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}

	err := json.NewDecoder(res.Body).Decode(&body)
	if err != nil || body.Error.Type == "" {
		return res.Status()
	}

	return body.Error.Type + ": " + body.Error.Reason
}
