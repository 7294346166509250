package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
)

// Client accesses a cluster over its http api
type Client struct {
	opts options
	cli  *http.Client
}

// NewClient returns a client of the server at addr
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(&c.opts)
	}

	c.opts.adjust()

	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c.opts.addr = strings.TrimSuffix(addr, "/")

	c.cli = &http.Client{Timeout: c.opts.timeout}
	return c
}

// Ingest appends the documents to the collection, returning the
// stamped identities and the commit token
func (c *Client) Ingest(collection string, docs ...[]byte) (meta.IngestResult, error) {
	body := append([]byte("["), bytes.Join(docs, []byte(","))...)
	body = append(body, ']')

	result := meta.IngestResult{}
	err := c.do(http.MethodPost,
		fmt.Sprintf("/v1/collections/%s/documents", collection),
		body,
		&result)
	return result, err
}

// Documents reads at most limit documents of the collection from the
// offset
func (c *Client) Documents(collection string, offset int64, limit int) (meta.ReadResult, error) {
	result := meta.ReadResult{}
	err := c.do(http.MethodGet,
		fmt.Sprintf("/v1/collections/%s/documents?offset=%d&limit=%d", collection, offset, limit),
		nil,
		&result)
	return result, err
}

// States returns the states of the derivation's members on the server
func (c *Client) States(derivation string) ([]derive.DerivationState, error) {
	var result []derive.DerivationState
	err := c.do(http.MethodGet,
		fmt.Sprintf("/v1/derivations/%s/states", derivation),
		nil,
		&result)
	return result, err
}

// Resume retries a halted transform from the failing document
func (c *Client) Resume(derivation, transform string) error {
	return c.do(http.MethodPut,
		fmt.Sprintf("/v1/derivations/%s/transforms/%s/resume", derivation, transform),
		nil,
		nil)
}

// Skip advances a halted transform past the failing document
func (c *Client) Skip(derivation, transform string) error {
	return c.do(http.MethodPut,
		fmt.Sprintf("/v1/derivations/%s/transforms/%s/skip", derivation, transform),
		nil,
		nil)
}

// Catalog returns the catalog served by the cluster
func (c *Client) Catalog() (meta.CatalogSpec, error) {
	result := meta.CatalogSpec{}
	err := c.do(http.MethodGet, "/v1/catalog", nil, &result)
	return result, err
}

// Shards returns the shards served by the server
func (c *Client) Shards() ([]meta.Shard, error) {
	var result []meta.Shard
	err := c.do(http.MethodGet, "/v1/shards", nil, &result)
	return result, err
}

type rawResult struct {
	Code  int             `json:"code"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (c *Client) do(method, path string, body []byte, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.opts.addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d of %s %s", resp.StatusCode, method, path)
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	result := rawResult{}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	if result.Code != 0 {
		msg := ""
		json.Unmarshal(result.Value, &msg)
		return fmt.Errorf("request refused: %s", msg)
	}

	if out != nil && len(result.Value) > 0 {
		return json.Unmarshal(result.Value, out)
	}

	return nil
}
